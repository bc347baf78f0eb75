package backend

import (
	"errors"
	"fmt"

	"github.com/coupledsim/fmigate/pkg/shm"
	"github.com/coupledsim/fmigate/pkg/types"
)

// Variable registration. The worker declares, by name, which variables
// it expects; each name is located in the corresponding shared record
// vector and its causality verified. The back end keeps the resolved
// records and copies values between them and the worker's local buffers
// on every step.

var vectorNames = map[types.ValueKind]string{
	types.KindReal:    types.VectorRealScalars,
	types.KindInteger: types.VectorIntegerScalars,
	types.KindBoolean: types.VectorBooleanScalars,
	types.KindString:  types.VectorStringScalars,
}

func (b *Backend) initializeVariables(kind types.ValueKind, names []string, causality types.Causality) ([]shm.Record, error) {
	if b.slave == nil {
		return nil, errors.New("backend: not initialized")
	}
	if len(names) == 0 {
		return nil, nil
	}

	scalars, err := b.slave.FindRecordVector(vectorNames[kind], kind)
	if err != nil {
		b.lg.Error().Str("category", "ABORT").Err(err).
			Msgf("unable to retrieve scalar collection '%s'", vectorNames[kind])
		return nil, err
	}

	byName := make(map[string]shm.Record, len(scalars))
	for _, rec := range scalars {
		byName[rec.Name()] = rec
	}

	records := make([]shm.Record, 0, len(names))
	var firstErr error
	for _, name := range names {
		rec, ok := byName[name]
		if !ok {
			b.lg.Error().Str("category", "ABORT").Str("name", name).Msg("scalar variable not found")
			return records, fmt.Errorf("backend: scalar variable not found: %q", name)
		}
		if rec.Causality() != causality {
			b.lg.Error().Str("category", "ABORT").Str("name", name).
				Str("causality", string(rec.Causality())).
				Str("expected", string(causality)).
				Msg("scalar variable has wrong causality")
			if firstErr == nil {
				firstErr = fmt.Errorf("backend: scalar variable %q has causality %s, expected %s",
					name, rec.Causality(), causality)
			}
		}
		records = append(records, rec)
	}
	return records, firstErr
}

// InitializeRealParameters registers the named real parameters. The
// causality that marks a parameter depends on the contract revision the
// front end declared.
func (b *Backend) InitializeRealParameters(names ...string) error {
	recs, err := b.initializeVariables(types.KindReal, names, b.FMIVersion().ParameterCausality())
	b.realParams = recs
	return err
}

// InitializeIntegerParameters registers the named integer parameters.
func (b *Backend) InitializeIntegerParameters(names ...string) error {
	recs, err := b.initializeVariables(types.KindInteger, names, b.FMIVersion().ParameterCausality())
	b.integerParams = recs
	return err
}

// InitializeBooleanParameters registers the named boolean parameters.
func (b *Backend) InitializeBooleanParameters(names ...string) error {
	recs, err := b.initializeVariables(types.KindBoolean, names, b.FMIVersion().ParameterCausality())
	b.booleanParams = recs
	return err
}

// InitializeStringParameters registers the named string parameters.
func (b *Backend) InitializeStringParameters(names ...string) error {
	recs, err := b.initializeVariables(types.KindString, names, b.FMIVersion().ParameterCausality())
	b.stringParams = recs
	return err
}

// InitializeRealInputs registers the named real inputs.
func (b *Backend) InitializeRealInputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindReal, names, types.CausalityInput)
	b.realInputs = recs
	return err
}

// InitializeIntegerInputs registers the named integer inputs.
func (b *Backend) InitializeIntegerInputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindInteger, names, types.CausalityInput)
	b.integerInputs = recs
	return err
}

// InitializeBooleanInputs registers the named boolean inputs.
func (b *Backend) InitializeBooleanInputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindBoolean, names, types.CausalityInput)
	b.booleanInputs = recs
	return err
}

// InitializeStringInputs registers the named string inputs.
func (b *Backend) InitializeStringInputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindString, names, types.CausalityInput)
	b.stringInputs = recs
	return err
}

// InitializeRealOutputs registers the named real outputs.
func (b *Backend) InitializeRealOutputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindReal, names, types.CausalityOutput)
	b.realOutputs = recs
	return err
}

// InitializeIntegerOutputs registers the named integer outputs.
func (b *Backend) InitializeIntegerOutputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindInteger, names, types.CausalityOutput)
	b.integerOutputs = recs
	return err
}

// InitializeBooleanOutputs registers the named boolean outputs.
func (b *Backend) InitializeBooleanOutputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindBoolean, names, types.CausalityOutput)
	b.booleanOutputs = recs
	return err
}

// InitializeStringOutputs registers the named string outputs.
func (b *Backend) InitializeStringOutputs(names ...string) error {
	recs, err := b.initializeVariables(types.KindString, names, types.CausalityOutput)
	b.stringOutputs = recs
	return err
}

func lenCheck(what string, got, want int) error {
	if got != want {
		return fmt.Errorf("backend: %s buffer has %d elements, %d registered", what, got, want)
	}
	return nil
}

// GetRealParameters copies the registered real parameters into dst.
func (b *Backend) GetRealParameters(dst []float64) error {
	if err := lenCheck("real parameter", len(dst), len(b.realParams)); err != nil {
		return err
	}
	for i, rec := range b.realParams {
		dst[i] = rec.Real()
	}
	return nil
}

// SetRealParameters writes src back into the registered real
// parameters, used when initialization computes parameter values.
func (b *Backend) SetRealParameters(src []float64) error {
	if err := lenCheck("real parameter", len(src), len(b.realParams)); err != nil {
		return err
	}
	for i, rec := range b.realParams {
		rec.SetReal(src[i])
	}
	return nil
}

// GetIntegerParameters copies the registered integer parameters into dst.
func (b *Backend) GetIntegerParameters(dst []int64) error {
	if err := lenCheck("integer parameter", len(dst), len(b.integerParams)); err != nil {
		return err
	}
	for i, rec := range b.integerParams {
		dst[i] = rec.Integer()
	}
	return nil
}

// SetIntegerParameters writes src back into the registered integer parameters.
func (b *Backend) SetIntegerParameters(src []int64) error {
	if err := lenCheck("integer parameter", len(src), len(b.integerParams)); err != nil {
		return err
	}
	for i, rec := range b.integerParams {
		rec.SetInteger(src[i])
	}
	return nil
}

// GetBooleanParameters copies the registered boolean parameters into dst.
func (b *Backend) GetBooleanParameters(dst []bool) error {
	if err := lenCheck("boolean parameter", len(dst), len(b.booleanParams)); err != nil {
		return err
	}
	for i, rec := range b.booleanParams {
		dst[i] = rec.Bool()
	}
	return nil
}

// SetBooleanParameters writes src back into the registered boolean parameters.
func (b *Backend) SetBooleanParameters(src []bool) error {
	if err := lenCheck("boolean parameter", len(src), len(b.booleanParams)); err != nil {
		return err
	}
	for i, rec := range b.booleanParams {
		rec.SetBool(src[i])
	}
	return nil
}

// GetStringParameters copies the registered string parameters into dst.
func (b *Backend) GetStringParameters(dst []string) error {
	if err := lenCheck("string parameter", len(dst), len(b.stringParams)); err != nil {
		return err
	}
	for i, rec := range b.stringParams {
		dst[i] = rec.String()
	}
	return nil
}

// SetStringParameters writes src back into the registered string parameters.
func (b *Backend) SetStringParameters(src []string) error {
	if err := lenCheck("string parameter", len(src), len(b.stringParams)); err != nil {
		return err
	}
	for i, rec := range b.stringParams {
		if err := rec.SetString(src[i]); err != nil {
			return err
		}
	}
	return nil
}

// GetRealInputs copies the registered real inputs into dst.
func (b *Backend) GetRealInputs(dst []float64) error {
	if err := lenCheck("real input", len(dst), len(b.realInputs)); err != nil {
		return err
	}
	for i, rec := range b.realInputs {
		dst[i] = rec.Real()
	}
	return nil
}

// GetIntegerInputs copies the registered integer inputs into dst.
func (b *Backend) GetIntegerInputs(dst []int64) error {
	if err := lenCheck("integer input", len(dst), len(b.integerInputs)); err != nil {
		return err
	}
	for i, rec := range b.integerInputs {
		dst[i] = rec.Integer()
	}
	return nil
}

// GetBooleanInputs copies the registered boolean inputs into dst.
func (b *Backend) GetBooleanInputs(dst []bool) error {
	if err := lenCheck("boolean input", len(dst), len(b.booleanInputs)); err != nil {
		return err
	}
	for i, rec := range b.booleanInputs {
		dst[i] = rec.Bool()
	}
	return nil
}

// GetStringInputs copies the registered string inputs into dst.
func (b *Backend) GetStringInputs(dst []string) error {
	if err := lenCheck("string input", len(dst), len(b.stringInputs)); err != nil {
		return err
	}
	for i, rec := range b.stringInputs {
		dst[i] = rec.String()
	}
	return nil
}

// ResetInputs zeroes all registered input slots after a step has
// consumed them.
func (b *Backend) ResetInputs() error {
	for _, rec := range b.realInputs {
		rec.SetReal(0)
	}
	for _, rec := range b.integerInputs {
		rec.SetInteger(0)
	}
	for _, rec := range b.booleanInputs {
		rec.SetBool(false)
	}
	for _, rec := range b.stringInputs {
		if err := rec.SetString(""); err != nil {
			return err
		}
	}
	return nil
}

// SetRealOutputs writes src into the registered real outputs.
func (b *Backend) SetRealOutputs(src []float64) error {
	if err := lenCheck("real output", len(src), len(b.realOutputs)); err != nil {
		return err
	}
	for i, rec := range b.realOutputs {
		rec.SetReal(src[i])
	}
	return nil
}

// SetIntegerOutputs writes src into the registered integer outputs.
func (b *Backend) SetIntegerOutputs(src []int64) error {
	if err := lenCheck("integer output", len(src), len(b.integerOutputs)); err != nil {
		return err
	}
	for i, rec := range b.integerOutputs {
		rec.SetInteger(src[i])
	}
	return nil
}

// SetBooleanOutputs writes src into the registered boolean outputs.
func (b *Backend) SetBooleanOutputs(src []bool) error {
	if err := lenCheck("boolean output", len(src), len(b.booleanOutputs)); err != nil {
		return err
	}
	for i, rec := range b.booleanOutputs {
		rec.SetBool(src[i])
	}
	return nil
}

// SetStringOutputs writes src into the registered string outputs.
func (b *Backend) SetStringOutputs(src []string) error {
	if err := lenCheck("string output", len(src), len(b.stringOutputs)); err != nil {
		return err
	}
	for i, rec := range b.stringOutputs {
		if err := rec.SetString(src[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) scalarNames(kind types.ValueKind, causality types.Causality) []string {
	if b.slave == nil {
		return nil
	}
	scalars, err := b.slave.FindRecordVector(vectorNames[kind], kind)
	if err != nil {
		return nil
	}
	var names []string
	for _, rec := range scalars {
		if rec.Causality() == causality {
			names = append(names, rec.Name())
		}
	}
	return names
}

// RealInputNames lists all real inputs the front end initialized.
func (b *Backend) RealInputNames() []string {
	return b.scalarNames(types.KindReal, types.CausalityInput)
}

// RealOutputNames lists all real outputs the front end initialized.
func (b *Backend) RealOutputNames() []string {
	return b.scalarNames(types.KindReal, types.CausalityOutput)
}

// RealParameterNames lists all real parameters the front end initialized.
func (b *Backend) RealParameterNames() []string {
	return b.scalarNames(types.KindReal, b.FMIVersion().ParameterCausality())
}

// IntegerInputNames lists all integer inputs the front end initialized.
func (b *Backend) IntegerInputNames() []string {
	return b.scalarNames(types.KindInteger, types.CausalityInput)
}

// IntegerOutputNames lists all integer outputs the front end initialized.
func (b *Backend) IntegerOutputNames() []string {
	return b.scalarNames(types.KindInteger, types.CausalityOutput)
}

// BooleanInputNames lists all boolean inputs the front end initialized.
func (b *Backend) BooleanInputNames() []string {
	return b.scalarNames(types.KindBoolean, types.CausalityInput)
}

// BooleanOutputNames lists all boolean outputs the front end initialized.
func (b *Backend) BooleanOutputNames() []string {
	return b.scalarNames(types.KindBoolean, types.CausalityOutput)
}

// StringInputNames lists all string inputs the front end initialized.
func (b *Backend) StringInputNames() []string {
	return b.scalarNames(types.KindString, types.CausalityInput)
}

// StringOutputNames lists all string outputs the front end initialized.
func (b *Backend) StringOutputNames() []string {
	return b.scalarNames(types.KindString, types.CausalityOutput)
}
