package wrapper

import (
	"fmt"
	"math"
)

// Model is the in-process black-box continuous model driven by the
// self-integrating wrapper: a coupled ODE with named values, event
// indicators and discrete event handling.
type Model interface {
	// Lifecycle.
	Instantiate(instanceName string) error
	Initialize() error
	Terminate()

	// Continuous state.
	NStates() int
	NEventIndicators() int
	Time() float64
	SetTime(t float64)
	ContinuousStates(x []float64)
	SetContinuousStates(x []float64)
	Derivatives(dx []float64)
	EventIndicators(out []float64)

	// Named values.
	SetReal(name string, v float64) error
	GetReal(name string) (float64, error)
	SetInteger(name string, v int64) error
	GetInteger(name string) (int64, error)
	SetBoolean(name string, v bool) error
	GetBoolean(name string) (bool, error)
	SetString(name string, v string) error
	GetString(name string) (string, error)

	// Events. RaiseEvent marks a pending discrete change; HandleEvent
	// performs the discrete update at the given time. NextTimeEvent
	// returns the model's declared next time event, +Inf when none.
	RaiseEvent()
	HandleEvent(t float64)
	NextTimeEvent() float64
}

// NopModel provides no-op defaults for the optional parts of Model;
// embed it to implement only what a model actually has.
type NopModel struct{}

func (NopModel) Instantiate(string) error { return nil }
func (NopModel) Initialize() error        { return nil }
func (NopModel) Terminate()               {}
func (NopModel) NEventIndicators() int    { return 0 }
func (NopModel) EventIndicators([]float64) {
}
func (NopModel) SetReal(name string, _ float64) error { return unknownVariable(name) }
func (NopModel) GetReal(name string) (float64, error) { return 0, unknownVariable(name) }
func (NopModel) SetInteger(name string, _ int64) error {
	return unknownVariable(name)
}
func (NopModel) GetInteger(name string) (int64, error) { return 0, unknownVariable(name) }
func (NopModel) SetBoolean(name string, _ bool) error  { return unknownVariable(name) }
func (NopModel) GetBoolean(name string) (bool, error)  { return false, unknownVariable(name) }
func (NopModel) SetString(name string, _ string) error { return unknownVariable(name) }
func (NopModel) GetString(name string) (string, error) { return "", unknownVariable(name) }
func (NopModel) RaiseEvent()                           {}
func (NopModel) HandleEvent(float64)                   {}
func (NopModel) NextTimeEvent() float64                { return math.Inf(1) }

func unknownVariable(name string) error {
	return fmt.Errorf("wrapper: unknown variable %q", name)
}

// StartValues carries typed start values applied before the model
// initializes.
type StartValues struct {
	Reals    map[string]float64
	Integers map[string]int64
	Booleans map[string]bool
	Strings  map[string]string
}

// Inputs carries fresh input values for a sync, aligned with the
// defined input name lists.
type Inputs struct {
	Reals    []float64
	Integers []int64
	Booleans []bool
	Strings  []string
}

// Prediction is one stored look-ahead result: time, continuous state
// and the outputs captured at that time.
type Prediction struct {
	Time           float64
	States         []float64
	RealOutputs    []float64
	IntegerOutputs []int64
	BooleanOutputs []bool
	StringOutputs  []string
}

func (p Prediction) clone() Prediction {
	q := Prediction{Time: p.Time}
	q.States = append([]float64(nil), p.States...)
	q.RealOutputs = append([]float64(nil), p.RealOutputs...)
	q.IntegerOutputs = append([]int64(nil), p.IntegerOutputs...)
	q.BooleanOutputs = append([]bool(nil), p.BooleanOutputs...)
	q.StringOutputs = append([]string(nil), p.StringOutputs...)
	return q
}
