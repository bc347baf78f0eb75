package wrapper

import (
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/coupledsim/fmigate/pkg/integrator"
	"github.com/coupledsim/fmigate/pkg/log"
)

// timeDiffResolution is the tolerance for comparing prediction times.
const timeDiffResolution = 1e-9

// ErrOutsideWindow is returned by State for times outside the stored
// prediction window.
var ErrOutsideWindow = errors.New("wrapper: time outside stored prediction window")

// Config tunes the look-ahead and event handling of the wrapper.
type Config struct {
	// LookAheadHorizon is how far past a communication point the
	// wrapper speculatively integrates.
	LookAheadHorizon float64

	// LookAheadStepSize is the spacing of stored predictions within the
	// horizon.
	LookAheadStepSize float64

	// IntegratorStepSize is the integrator's internal (initial) step.
	IntegratorStepSize float64

	// StopBeforeEvent stops look-ahead at the last event-free time
	// instead of stepping across a detected event; the deferred
	// micro-step is taken when the next sync resumes integration from
	// that stop time, and a sync to any other time drops it.
	StopBeforeEvent bool

	// EventSearchPrecision bounds the bisection of the event interval.
	EventSearchPrecision float64

	// Integrator selects the stepper; Dormand-Prince by default.
	Integrator integrator.Type
	AbsTol     float64
	RelTol     float64
}

func (c *Config) validate() error {
	if c.LookAheadHorizon <= 0 {
		return errors.New("wrapper: look-ahead horizon must be positive")
	}
	if c.LookAheadStepSize <= 0 {
		return errors.New("wrapper: look-ahead step size must be positive")
	}
	if c.IntegratorStepSize <= 0 {
		return errors.New("wrapper: integrator step size must be positive")
	}
	if c.EventSearchPrecision <= 0 {
		c.EventSearchPrecision = 1e-12
	}
	if c.Integrator == "" {
		c.Integrator = integrator.TypeDormandPrince
	}
	if c.AbsTol <= 0 {
		c.AbsTol = integrator.DefaultAbsTol
	}
	if c.RelTol <= 0 {
		c.RelTol = integrator.DefaultRelTol
	}
	return nil
}

// Wrapper is the incremental self-integrating adapter path: it advances
// an in-process black-box ODE model between communication points,
// storing look-ahead predictions and detecting discontinuities.
type Wrapper struct {
	model   Model
	cfg     Config
	stepper integrator.Stepper
	lg      zerolog.Logger

	realInputs     []string
	integerInputs  []string
	booleanInputs  []string
	stringInputs   []string
	realOutputs    []string
	integerOutputs []string
	booleanOutputs []string
	stringOutputs  []string

	dim         int
	predictions []Prediction
	current     Prediction
	initialized bool

	// Integration machinery shared with the stepper callbacks.
	lastGoodState     []float64
	lastGoodDx        []float64
	lastCompletedTime float64
	refIndicators     []float64
	indBuf            []float64
	intEventFlag      bool
	eventBracketHi    float64

	// Deferred event handling for StopBeforeEvent.
	eventPending       bool
	pendingIsTimeEvent bool
	pendingStopTime    float64
	pendingEventTime   float64
	deferredState      []float64
}

// New creates a wrapper around the given model.
func New(model Model, cfg Config) (*Wrapper, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	stepper, err := integrator.NewWithTolerances(cfg.Integrator, cfg.AbsTol, cfg.RelTol)
	if err != nil {
		return nil, err
	}
	return &Wrapper{
		model:   model,
		cfg:     cfg,
		stepper: stepper,
		lg:      log.WithComponent("wrapper"),
	}, nil
}

// DefineRealInputs declares which named values fresh sync inputs map to.
func (w *Wrapper) DefineRealInputs(names ...string) { w.realInputs = names }

// DefineIntegerInputs declares the integer input names.
func (w *Wrapper) DefineIntegerInputs(names ...string) { w.integerInputs = names }

// DefineBooleanInputs declares the boolean input names.
func (w *Wrapper) DefineBooleanInputs(names ...string) { w.booleanInputs = names }

// DefineStringInputs declares the string input names.
func (w *Wrapper) DefineStringInputs(names ...string) { w.stringInputs = names }

// DefineRealOutputs declares which named values predictions capture.
func (w *Wrapper) DefineRealOutputs(names ...string) { w.realOutputs = names }

// DefineIntegerOutputs declares the integer output names.
func (w *Wrapper) DefineIntegerOutputs(names ...string) { w.integerOutputs = names }

// DefineBooleanOutputs declares the boolean output names.
func (w *Wrapper) DefineBooleanOutputs(names ...string) { w.booleanOutputs = names }

// DefineStringOutputs declares the string output names.
func (w *Wrapper) DefineStringOutputs(names ...string) { w.stringOutputs = names }

// Init instantiates and initializes the embedded model, applies the
// start values, raises an internal event so the model reconciles any
// guessed initial state, and stores the result as the first prediction.
func (w *Wrapper) Init(instanceName string, start StartValues, startTime float64) error {
	if err := w.model.Instantiate(instanceName); err != nil {
		return fmt.Errorf("wrapper: instantiate: %w", err)
	}

	if err := w.applyStartValues(start); err != nil {
		return err
	}

	if err := w.model.Initialize(); err != nil {
		return fmt.Errorf("wrapper: initialize: %w", err)
	}

	w.dim = w.model.NStates()
	w.lastGoodState = make([]float64, w.dim)
	w.lastGoodDx = make([]float64, w.dim)
	nInd := w.model.NEventIndicators()
	w.refIndicators = make([]float64, nInd)
	w.indBuf = make([]float64, nInd)

	// The initial state may contain guesses; raise an event and let the
	// model settle before anything is recorded.
	w.model.SetTime(startTime)
	w.model.RaiseEvent()
	w.model.HandleEvent(startTime)

	pred, err := w.capture(startTime)
	if err != nil {
		return err
	}
	w.predictions = append(w.predictions[:0], pred)
	w.current = pred.clone()
	w.lastCompletedTime = startTime
	copy(w.lastGoodState, pred.States)
	w.initialized = true
	return nil
}

func (w *Wrapper) applyStartValues(start StartValues) error {
	for name, v := range start.Reals {
		if err := w.model.SetReal(name, v); err != nil {
			return err
		}
	}
	for name, v := range start.Integers {
		if err := w.model.SetInteger(name, v); err != nil {
			return err
		}
	}
	for name, v := range start.Booleans {
		if err := w.model.SetBoolean(name, v); err != nil {
			return err
		}
	}
	for name, v := range start.Strings {
		if err := w.model.SetString(name, v); err != nil {
			return err
		}
	}
	return nil
}

func (w *Wrapper) capture(t float64) (Prediction, error) {
	p := Prediction{
		Time:           t,
		States:         make([]float64, w.dim),
		RealOutputs:    make([]float64, len(w.realOutputs)),
		IntegerOutputs: make([]int64, len(w.integerOutputs)),
		BooleanOutputs: make([]bool, len(w.booleanOutputs)),
		StringOutputs:  make([]string, len(w.stringOutputs)),
	}
	w.model.ContinuousStates(p.States)

	var err error
	for i, name := range w.realOutputs {
		if p.RealOutputs[i], err = w.model.GetReal(name); err != nil {
			return p, err
		}
	}
	for i, name := range w.integerOutputs {
		if p.IntegerOutputs[i], err = w.model.GetInteger(name); err != nil {
			return p, err
		}
	}
	for i, name := range w.booleanOutputs {
		if p.BooleanOutputs[i], err = w.model.GetBoolean(name); err != nil {
			return p, err
		}
	}
	for i, name := range w.stringOutputs {
		if p.StringOutputs[i], err = w.model.GetString(name); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Sync updates the internal state to t1 using the stored predictions,
// then computes fresh look-ahead predictions from t1. It returns the
// time the look-ahead reached: t1 plus the horizon, or earlier when an
// event stopped it.
func (w *Wrapper) Sync(t0, t1 float64) (float64, error) {
	if !w.initialized {
		return t1, errors.New("wrapper: not initialized")
	}
	if err := w.updateState(t1); err != nil {
		return t1, err
	}
	return w.predictState(t1)
}

// SyncWithInputs is Sync with new input values written into the model
// before the look-ahead. The inputs apply at the end of the interval
// [t0, t1].
func (w *Wrapper) SyncWithInputs(t0, t1 float64, in Inputs) (float64, error) {
	if !w.initialized {
		return t1, errors.New("wrapper: not initialized")
	}
	if err := w.updateState(t1); err != nil {
		return t1, err
	}

	if err := w.setInputs(in); err != nil {
		return t1, err
	}

	// Let the model reconcile the altered inputs before predicting.
	w.model.HandleEvent(t1)
	cur, err := w.capture(t1)
	if err != nil {
		return t1, err
	}
	w.current = cur

	return w.predictState(t1)
}

func (w *Wrapper) setInputs(in Inputs) error {
	if len(in.Reals) != len(w.realInputs) || len(in.Integers) != len(w.integerInputs) ||
		len(in.Booleans) != len(w.booleanInputs) || len(in.Strings) != len(w.stringInputs) {
		return errors.New("wrapper: input vector lengths do not match defined inputs")
	}
	for i, name := range w.realInputs {
		if err := w.model.SetReal(name, in.Reals[i]); err != nil {
			return err
		}
	}
	for i, name := range w.integerInputs {
		if err := w.model.SetInteger(name, in.Integers[i]); err != nil {
			return err
		}
	}
	for i, name := range w.booleanInputs {
		if err := w.model.SetBoolean(name, in.Booleans[i]); err != nil {
			return err
		}
	}
	for i, name := range w.stringInputs {
		if err := w.model.SetString(name, in.Strings[i]); err != nil {
			return err
		}
	}
	return nil
}

// State locates the bracketing predictions for t and linearly
// interpolates state and real outputs; non-real outputs take the right
// bracket's values. Times outside the stored window fail.
func (w *Wrapper) State(t float64) (Prediction, error) {
	if len(w.predictions) == 0 {
		return Prediction{}, ErrOutsideWindow
	}

	oldest := w.predictions[0].Time
	newest := w.predictions[len(w.predictions)-1].Time
	if t < oldest-timeDiffResolution || t > newest+timeDiffResolution {
		return Prediction{}, fmt.Errorf("%w: t = %g, window [%g, %g]", ErrOutsideWindow, t, oldest, newest)
	}

	// Search back to front; the last entry is usually the right one.
	for i := len(w.predictions) - 1; i >= 0; i-- {
		p := w.predictions[i]
		if math.Abs(t-p.Time) < timeDiffResolution {
			return p.clone(), nil
		}
		if t > p.Time {
			return interpolate(p, w.predictions[i+1], t), nil
		}
	}
	return Prediction{}, fmt.Errorf("%w: t = %g", ErrOutsideWindow, t)
}

func interpolateValue(x, x0, y0, x1, y1 float64) float64 {
	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

func interpolate(left, right Prediction, t float64) Prediction {
	p := right.clone()
	p.Time = t
	for i := range p.States {
		p.States[i] = interpolateValue(t, left.Time, left.States[i], right.Time, right.States[i])
	}
	for i := range p.RealOutputs {
		p.RealOutputs[i] = interpolateValue(t, left.Time, left.RealOutputs[i], right.Time, right.RealOutputs[i])
	}
	// No sense in interpolating the other kinds.
	return p
}

// CurrentState returns the prediction the next look-ahead starts from.
func (w *Wrapper) CurrentState() Prediction { return w.current.clone() }

// Predictions returns a copy of the stored look-ahead window.
func (w *Wrapper) Predictions() []Prediction {
	out := make([]Prediction, len(w.predictions))
	for i, p := range w.predictions {
		out[i] = p.clone()
	}
	return out
}

// Terminate releases the embedded model.
func (w *Wrapper) Terminate() { w.model.Terminate() }

// updateState applies the stored prediction for t1 as the new current
// state and rewinds the model onto it.
func (w *Wrapper) updateState(t1 float64) error {
	st, err := w.State(t1)
	if err != nil {
		return err
	}
	w.current = st
	w.model.SetContinuousStates(st.States)
	w.model.SetTime(t1)
	return nil
}

// predictState integrates from t1 to t1 plus the horizon in steps of
// the look-ahead step size, storing one prediction per step. A detected
// event ends the look-ahead early.
func (w *Wrapper) predictState(t1 float64) (float64, error) {
	w.predictions = w.predictions[:0]

	pred := w.current.clone()
	pred.Time = t1
	w.model.SetContinuousStates(pred.States)
	w.model.SetTime(t1)
	copy(w.lastGoodState, pred.States)
	w.lastCompletedTime = t1
	w.predictions = append(w.predictions, pred)

	horizon := t1 + w.cfg.LookAheadHorizon
	tCur := t1
	for tCur < horizon-timeDiffResolution {
		target := tCur + w.cfg.LookAheadStepSize
		reached := w.integrate(target, w.cfg.IntegratorStepSize)

		p, err := w.capture(reached)
		if err != nil {
			return tCur, err
		}
		w.predictions = append(w.predictions, p)
		tCur = reached

		if reached < target-timeDiffResolution {
			// Event stopped the look-ahead.
			return reached, nil
		}
	}
	return tCur, nil
}
