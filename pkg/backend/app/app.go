package app

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/coupledsim/fmigate/pkg/backend"
)

// Dry-run flags understood by Run. Build tooling uses them to extract a
// worker's interface without running the model.
const (
	FlagWriteVariableNames     = "--only-write-variable-names"
	FlagWriteVariableNamesJSON = "--only-write-variable-names-json"
)

// Model is the user hook set hosted by the application skeleton.
type Model interface {
	// InitializeVariables declares the worker's parameters, inputs and
	// outputs by registering pointers to its local state.
	InitializeVariables(v *Variables)

	// InitializeBackEnd runs user initialization after the variables
	// have been registered with the front end.
	InitializeBackEnd(b *backend.Backend, args []string) error

	// DoStep advances the model from lastSyncTime to syncTime. Inputs
	// and parameters have been copied into the registered locals before
	// the call; outputs are copied back after it.
	DoStep(syncTime, lastSyncTime float64) error
}

// ParameterInitializer is implemented by models that compute parameter
// values during initialization; the values are written back to the
// front end before the initialization turn ends.
type ParameterInitializer interface {
	InitializeParameterValues() error
}

type namedReal struct {
	name string
	ptr  *float64
}

type namedInteger struct {
	name string
	ptr  *int64
}

type namedBoolean struct {
	name string
	ptr  *bool
}

type namedString struct {
	name string
	ptr  *string
}

// Variables collects the worker's declared scalars: a name per local
// the skeleton keeps in sync with the shared records.
type Variables struct {
	realParams    []namedReal
	integerParams []namedInteger
	booleanParams []namedBoolean
	stringParams  []namedString

	realInputs    []namedReal
	integerInputs []namedInteger
	booleanInputs []namedBoolean
	stringInputs  []namedString

	realOutputs    []namedReal
	integerOutputs []namedInteger
	booleanOutputs []namedBoolean
	stringOutputs  []namedString
}

func (v *Variables) AddRealParameter(name string, p *float64) {
	v.realParams = append(v.realParams, namedReal{name, p})
}

func (v *Variables) AddIntegerParameter(name string, p *int64) {
	v.integerParams = append(v.integerParams, namedInteger{name, p})
}

func (v *Variables) AddBooleanParameter(name string, p *bool) {
	v.booleanParams = append(v.booleanParams, namedBoolean{name, p})
}

func (v *Variables) AddStringParameter(name string, p *string) {
	v.stringParams = append(v.stringParams, namedString{name, p})
}

func (v *Variables) AddRealInput(name string, p *float64) {
	v.realInputs = append(v.realInputs, namedReal{name, p})
}

func (v *Variables) AddIntegerInput(name string, p *int64) {
	v.integerInputs = append(v.integerInputs, namedInteger{name, p})
}

func (v *Variables) AddBooleanInput(name string, p *bool) {
	v.booleanInputs = append(v.booleanInputs, namedBoolean{name, p})
}

func (v *Variables) AddStringInput(name string, p *string) {
	v.stringInputs = append(v.stringInputs, namedString{name, p})
}

func (v *Variables) AddRealOutput(name string, p *float64) {
	v.realOutputs = append(v.realOutputs, namedReal{name, p})
}

func (v *Variables) AddIntegerOutput(name string, p *int64) {
	v.integerOutputs = append(v.integerOutputs, namedInteger{name, p})
}

func (v *Variables) AddBooleanOutput(name string, p *bool) {
	v.booleanOutputs = append(v.booleanOutputs, namedBoolean{name, p})
}

func (v *Variables) AddStringOutput(name string, p *string) {
	v.stringOutputs = append(v.stringOutputs, namedString{name, p})
}

func realNames(list []namedReal) []string {
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.name
	}
	return names
}

func integerNames(list []namedInteger) []string {
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.name
	}
	return names
}

func booleanNames(list []namedBoolean) []string {
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.name
	}
	return names
}

func stringNames(list []namedString) []string {
	names := make([]string, len(list))
	for i, n := range list {
		names[i] = n.name
	}
	return names
}

// Application hosts a worker's main loop: initialization handshake,
// per-step exchange, clean termination.
type Application struct {
	model Model
	cfg   backend.Config

	backend *backend.Backend
	vars    Variables

	syncTime     float64
	lastSyncTime float64
}

// New creates an application skeleton around the given model.
func New(model Model, cfg backend.Config) *Application {
	return &Application{model: model, cfg: cfg}
}

// Run executes the worker: either one of the dry-run modes that only
// emit the declared variable names, or the full rendezvous loop until
// the stop time is reached or the process is killed.
func (a *Application) Run(args []string) error {
	if len(args) == 1 {
		switch args[0] {
		case FlagWriteVariableNames:
			a.model.InitializeVariables(&a.vars)
			return a.writeVariableNameFiles()
		case FlagWriteVariableNamesJSON:
			a.model.InitializeVariables(&a.vars)
			exe, _ := os.Executable()
			return a.writeVariableNamesJSON(exe + ".json")
		}
	}

	a.backend = backend.New(a.cfg)
	if err := a.initialize(args); err != nil {
		return err
	}
	defer a.backend.Terminate()

	for {
		done, err := a.step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (a *Application) initialize(args []string) error {
	if err := a.backend.StartInitialization(); err != nil {
		return err
	}

	a.model.InitializeVariables(&a.vars)

	initSteps := []func() error{
		func() error { return a.backend.InitializeRealParameters(realNames(a.vars.realParams)...) },
		func() error {
			return a.backend.InitializeIntegerParameters(integerNames(a.vars.integerParams)...)
		},
		func() error {
			return a.backend.InitializeBooleanParameters(booleanNames(a.vars.booleanParams)...)
		},
		func() error { return a.backend.InitializeStringParameters(stringNames(a.vars.stringParams)...) },
		func() error { return a.backend.InitializeRealInputs(realNames(a.vars.realInputs)...) },
		func() error { return a.backend.InitializeIntegerInputs(integerNames(a.vars.integerInputs)...) },
		func() error { return a.backend.InitializeBooleanInputs(booleanNames(a.vars.booleanInputs)...) },
		func() error { return a.backend.InitializeStringInputs(stringNames(a.vars.stringInputs)...) },
		func() error { return a.backend.InitializeRealOutputs(realNames(a.vars.realOutputs)...) },
		func() error { return a.backend.InitializeIntegerOutputs(integerNames(a.vars.integerOutputs)...) },
		func() error { return a.backend.InitializeBooleanOutputs(booleanNames(a.vars.booleanOutputs)...) },
		func() error { return a.backend.InitializeStringOutputs(stringNames(a.vars.stringOutputs)...) },
	}
	for _, step := range initSteps {
		if err := step(); err != nil {
			return err
		}
	}

	// Parameter start values flow front end -> worker first; the model
	// may then overrule them during its own initialization.
	if err := a.pullParameters(); err != nil {
		return err
	}
	if pi, ok := a.model.(ParameterInitializer); ok {
		if err := pi.InitializeParameterValues(); err != nil {
			return err
		}
	}
	if err := a.model.InitializeBackEnd(a.backend, args); err != nil {
		return err
	}

	// Write back whatever initialization decided.
	if err := a.pushParameters(); err != nil {
		return err
	}
	if err := a.pushOutputs(); err != nil {
		return err
	}

	a.syncTime = a.backend.CurrentCommunicationPoint()
	a.lastSyncTime = a.syncTime

	return a.backend.EndInitialization()
}

func (a *Application) step() (done bool, err error) {
	if err := a.backend.WaitForMaster(); err != nil {
		return false, err
	}

	a.syncTime = a.backend.CurrentCommunicationPoint() + a.backend.CommunicationStepSize()

	if err := a.pullParameters(); err != nil {
		return false, err
	}
	if err := a.pullInputs(); err != nil {
		return false, err
	}

	if err := a.model.DoStep(a.syncTime, a.lastSyncTime); err != nil {
		lg := a.backend.Logger()
		lg.Error().Str("category", "ERROR").Err(err).Msg("doStep failed")
		a.backend.RejectStep()
	} else if err := a.pushOutputs(); err != nil {
		return false, err
	}

	if err := a.backend.ResetInputs(); err != nil {
		return false, err
	}

	a.lastSyncTime = a.syncTime

	done = a.backend.StopTimeDefined() && a.syncTime >= a.backend.StopTime()
	if err := a.backend.SignalToMaster(); err != nil {
		return false, err
	}
	return done, nil
}

func (a *Application) pullParameters() error {
	reals := make([]float64, len(a.vars.realParams))
	if err := a.backend.GetRealParameters(reals); err != nil {
		return err
	}
	for i, p := range a.vars.realParams {
		*p.ptr = reals[i]
	}

	ints := make([]int64, len(a.vars.integerParams))
	if err := a.backend.GetIntegerParameters(ints); err != nil {
		return err
	}
	for i, p := range a.vars.integerParams {
		*p.ptr = ints[i]
	}

	bools := make([]bool, len(a.vars.booleanParams))
	if err := a.backend.GetBooleanParameters(bools); err != nil {
		return err
	}
	for i, p := range a.vars.booleanParams {
		*p.ptr = bools[i]
	}

	strs := make([]string, len(a.vars.stringParams))
	if err := a.backend.GetStringParameters(strs); err != nil {
		return err
	}
	for i, p := range a.vars.stringParams {
		*p.ptr = strs[i]
	}
	return nil
}

func (a *Application) pushParameters() error {
	reals := make([]float64, len(a.vars.realParams))
	for i, p := range a.vars.realParams {
		reals[i] = *p.ptr
	}
	if err := a.backend.SetRealParameters(reals); err != nil {
		return err
	}

	ints := make([]int64, len(a.vars.integerParams))
	for i, p := range a.vars.integerParams {
		ints[i] = *p.ptr
	}
	if err := a.backend.SetIntegerParameters(ints); err != nil {
		return err
	}

	bools := make([]bool, len(a.vars.booleanParams))
	for i, p := range a.vars.booleanParams {
		bools[i] = *p.ptr
	}
	if err := a.backend.SetBooleanParameters(bools); err != nil {
		return err
	}

	strs := make([]string, len(a.vars.stringParams))
	for i, p := range a.vars.stringParams {
		strs[i] = *p.ptr
	}
	return a.backend.SetStringParameters(strs)
}

func (a *Application) pullInputs() error {
	reals := make([]float64, len(a.vars.realInputs))
	if err := a.backend.GetRealInputs(reals); err != nil {
		return err
	}
	for i, p := range a.vars.realInputs {
		*p.ptr = reals[i]
	}

	ints := make([]int64, len(a.vars.integerInputs))
	if err := a.backend.GetIntegerInputs(ints); err != nil {
		return err
	}
	for i, p := range a.vars.integerInputs {
		*p.ptr = ints[i]
	}

	bools := make([]bool, len(a.vars.booleanInputs))
	if err := a.backend.GetBooleanInputs(bools); err != nil {
		return err
	}
	for i, p := range a.vars.booleanInputs {
		*p.ptr = bools[i]
	}

	strs := make([]string, len(a.vars.stringInputs))
	if err := a.backend.GetStringInputs(strs); err != nil {
		return err
	}
	for i, p := range a.vars.stringInputs {
		*p.ptr = strs[i]
	}
	return nil
}

func (a *Application) pushOutputs() error {
	reals := make([]float64, len(a.vars.realOutputs))
	for i, p := range a.vars.realOutputs {
		reals[i] = *p.ptr
	}
	if err := a.backend.SetRealOutputs(reals); err != nil {
		return err
	}

	ints := make([]int64, len(a.vars.integerOutputs))
	for i, p := range a.vars.integerOutputs {
		ints[i] = *p.ptr
	}
	if err := a.backend.SetIntegerOutputs(ints); err != nil {
		return err
	}

	bools := make([]bool, len(a.vars.booleanOutputs))
	for i, p := range a.vars.booleanOutputs {
		bools[i] = *p.ptr
	}
	if err := a.backend.SetBooleanOutputs(bools); err != nil {
		return err
	}

	strs := make([]string, len(a.vars.stringOutputs))
	for i, p := range a.vars.stringOutputs {
		strs[i] = *p.ptr
	}
	return a.backend.SetStringOutputs(strs)
}

func writeNameFile(names []string, filename string) error {
	if len(names) == 0 {
		return nil
	}
	return os.WriteFile(filename, []byte(strings.Join(names, "\n")+"\n"), 0644)
}

func (a *Application) writeVariableNameFiles() error {
	files := []struct {
		names []string
		file  string
	}{
		{realNames(a.vars.realParams), "real.param"},
		{integerNames(a.vars.integerParams), "integer.param"},
		{booleanNames(a.vars.booleanParams), "boolean.param"},
		{stringNames(a.vars.stringParams), "string.param"},
		{realNames(a.vars.realInputs), "real.in"},
		{integerNames(a.vars.integerInputs), "integer.in"},
		{booleanNames(a.vars.booleanInputs), "boolean.in"},
		{stringNames(a.vars.stringInputs), "string.in"},
		{realNames(a.vars.realOutputs), "real.out"},
		{integerNames(a.vars.integerOutputs), "integer.out"},
		{booleanNames(a.vars.booleanOutputs), "boolean.out"},
		{stringNames(a.vars.stringOutputs), "string.out"},
	}
	for _, f := range files {
		if err := writeNameFile(f.names, f.file); err != nil {
			return fmt.Errorf("app: write %s: %w", f.file, err)
		}
	}
	return nil
}

func (a *Application) writeVariableNamesJSON(filename string) error {
	doc := map[string][]string{}
	add := func(key string, names []string) {
		if len(names) > 0 {
			doc[key] = names
		}
	}
	add("RealParameters", realNames(a.vars.realParams))
	add("IntegerParameters", integerNames(a.vars.integerParams))
	add("BooleanParameters", booleanNames(a.vars.booleanParams))
	add("StringParameters", stringNames(a.vars.stringParams))
	add("RealInputs", realNames(a.vars.realInputs))
	add("IntegerInputs", integerNames(a.vars.integerInputs))
	add("BooleanInputs", booleanNames(a.vars.booleanInputs))
	add("StringInputs", stringNames(a.vars.stringInputs))
	add("RealOutputs", realNames(a.vars.realOutputs))
	add("IntegerOutputs", integerNames(a.vars.integerOutputs))
	add("BooleanOutputs", booleanNames(a.vars.booleanOutputs))
	add("StringOutputs", stringNames(a.vars.stringOutputs))

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, append(data, '\n'), 0644)
}
