package wrapper

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coupledsim/fmigate/pkg/integrator"
)

// rampModel is x' = slope with no events: the simplest continuous model.
type rampModel struct {
	NopModel
	t     float64
	x     [1]float64
	slope float64
}

func (m *rampModel) NStates() int                  { return 1 }
func (m *rampModel) Time() float64                 { return m.t }
func (m *rampModel) SetTime(t float64)             { m.t = t }
func (m *rampModel) ContinuousStates(x []float64)  { x[0] = m.x[0] }
func (m *rampModel) SetContinuousStates(x []float64) {
	m.x[0] = x[0]
}
func (m *rampModel) Derivatives(dx []float64) { dx[0] = m.slope }
func (m *rampModel) GetReal(name string) (float64, error) {
	if name == "x" {
		return m.x[0], nil
	}
	return 0, unknownVariable(name)
}
func (m *rampModel) SetReal(name string, v float64) error {
	switch name {
	case "x":
		m.x[0] = v
	case "slope":
		m.slope = v
	default:
		return unknownVariable(name)
	}
	return nil
}

// flipModel is x' = mode*rate*x with an event when x crosses the
// threshold from below; handling the event flips the derivative sign.
// The exact crossing time from x0 is ln(threshold/x0)/rate.
type flipModel struct {
	NopModel
	t         float64
	x         [1]float64
	mode      float64
	rate      float64
	threshold float64
	flips     int
}

func newFlipModel(x0, rate, threshold float64) *flipModel {
	m := &flipModel{mode: 1, rate: rate, threshold: threshold}
	m.x[0] = x0
	return m
}

func (m *flipModel) NStates() int          { return 1 }
func (m *flipModel) NEventIndicators() int { return 1 }
func (m *flipModel) Time() float64         { return m.t }
func (m *flipModel) SetTime(t float64)     { m.t = t }
func (m *flipModel) ContinuousStates(x []float64) {
	x[0] = m.x[0]
}
func (m *flipModel) SetContinuousStates(x []float64) { m.x[0] = x[0] }
func (m *flipModel) Derivatives(dx []float64)        { dx[0] = m.mode * m.rate * m.x[0] }
func (m *flipModel) EventIndicators(out []float64) {
	if m.mode > 0 {
		out[0] = m.threshold - m.x[0]
	} else {
		out[0] = 1 // armed only while rising
	}
}
func (m *flipModel) HandleEvent(t float64) {
	if m.mode > 0 && m.x[0] >= m.threshold {
		m.mode = -m.mode
		m.flips++
	}
}
func (m *flipModel) GetReal(name string) (float64, error) {
	switch name {
	case "x":
		return m.x[0], nil
	case "mode":
		return m.mode, nil
	}
	return 0, unknownVariable(name)
}

// alarmModel has no continuous state; it declares one time event and
// counts its handling.
type alarmModel struct {
	NopModel
	t       float64
	alarmAt float64
	fired   bool
}

func (m *alarmModel) NStates() int                    { return 0 }
func (m *alarmModel) Time() float64                   { return m.t }
func (m *alarmModel) SetTime(t float64)               { m.t = t }
func (m *alarmModel) ContinuousStates([]float64)      {}
func (m *alarmModel) SetContinuousStates([]float64)   {}
func (m *alarmModel) Derivatives([]float64)           {}
func (m *alarmModel) NextTimeEvent() float64 {
	if m.fired {
		return math.Inf(1)
	}
	return m.alarmAt
}
func (m *alarmModel) HandleEvent(t float64) {
	if !m.fired && t >= m.alarmAt-1e-9 {
		m.fired = true
	}
}
func (m *alarmModel) GetBoolean(name string) (bool, error) {
	if name == "fired" {
		return m.fired, nil
	}
	return false, unknownVariable(name)
}

func defaultConfig() Config {
	return Config{
		LookAheadHorizon:     1.0,
		LookAheadStepSize:    0.1,
		IntegratorStepSize:   0.01,
		EventSearchPrecision: 1e-10,
		Integrator:           integrator.TypeDormandPrince,
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero horizon", func(c *Config) { c.LookAheadHorizon = 0 }},
		{"zero lookahead step", func(c *Config) { c.LookAheadStepSize = 0 }},
		{"zero integrator step", func(c *Config) { c.IntegratorStepSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(&cfg)
			_, err := New(&rampModel{slope: 1}, cfg)
			assert.Error(t, err)
		})
	}
}

func TestInitStoresFirstPrediction(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealOutputs("x")

	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 2.5, "slope": 1}}, 0))

	preds := w.Predictions()
	require.Len(t, preds, 1)
	assert.Equal(t, 0.0, preds[0].Time)
	assert.Equal(t, 2.5, preds[0].States[0])
	assert.Equal(t, 2.5, preds[0].RealOutputs[0])
}

func TestSyncPredictsOverHorizon(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealOutputs("x")

	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 0, "slope": 2}}, 0))

	reached, err := w.Sync(0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, reached, 1e-9)

	preds := w.Predictions()
	require.Len(t, preds, 11)
	for _, p := range preds {
		assert.InDelta(t, 2*p.Time, p.States[0], 1e-9)
	}
}

func TestStateInterpolation(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealOutputs("x")

	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 0, "slope": 2}}, 0))
	_, err = w.Sync(0, 0)
	require.NoError(t, err)

	// Between stored predictions: linear interpolation of state and
	// real outputs.
	st, err := w.State(0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, st.States[0], 1e-9)
	assert.InDelta(t, 0.1, st.RealOutputs[0], 1e-9)

	// Exactly on a stored prediction.
	st, err = w.State(0.3)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, st.States[0], 1e-9)
}

func TestStateOutsideWindow(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 0, "slope": 1}}, 0))
	_, err = w.Sync(0, 0)
	require.NoError(t, err)

	_, err = w.State(-0.5)
	assert.ErrorIs(t, err, ErrOutsideWindow)
	_, err = w.State(5.0)
	assert.ErrorIs(t, err, ErrOutsideWindow)
}

func TestSyncAdvancesBetweenCommunicationPoints(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealOutputs("x")
	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 0, "slope": 1}}, 0))

	_, err = w.Sync(0, 0)
	require.NoError(t, err)
	for _, t1 := range []float64{0.5, 1.0, 1.5, 2.0} {
		_, err = w.Sync(t1-0.5, t1)
		require.NoError(t, err)
		assert.InDelta(t, t1, w.CurrentState().States[0], 1e-9)
	}
}

func TestSyncWithInputsAppliesBeforeLookAhead(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealInputs("slope")
	w.DefineRealOutputs("x")
	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 0, "slope": 1}}, 0))

	_, err = w.SyncWithInputs(0, 0, Inputs{Reals: []float64{5}})
	require.NoError(t, err)

	st, err := w.State(0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, st.States[0], 1e-9)
}

func TestSyncWithInputsLengthMismatch(t *testing.T) {
	m := &rampModel{}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealInputs("slope")
	require.NoError(t, w.Init("ramp1", StartValues{Reals: map[string]float64{"x": 0, "slope": 1}}, 0))

	_, err = w.SyncWithInputs(0, 0, Inputs{})
	assert.Error(t, err)
}

func TestEventDetectionStopBefore(t *testing.T) {
	// x' = 10x from 0.4 flips sign at x = 0.6; the exact crossing is at
	// ln(0.6/0.4)/10.
	m := newFlipModel(0.4, 10, 0.6)
	cfg := defaultConfig()
	cfg.StopBeforeEvent = true
	w, err := New(m, cfg)
	require.NoError(t, err)
	w.DefineRealOutputs("x")
	require.NoError(t, w.Init("flip1", StartValues{}, 0))

	tStar := math.Log(0.6/0.4) / 10
	reached, err := w.Sync(0, 0)
	require.NoError(t, err)

	assert.LessOrEqual(t, reached, tStar+1e-8, "must stop at or before the event")
	assert.InDelta(t, tStar, reached, 1e-6)
	assert.Equal(t, 0, m.flips, "event must not be handled yet")

	// Resuming from the stop time takes the deferred micro-step and
	// handles the event.
	_, err = w.Sync(0, reached)
	require.NoError(t, err)
	assert.Equal(t, 1, m.flips)
	assert.Equal(t, -1.0, m.mode)
}

func TestEventDetectionCrossAndHandle(t *testing.T) {
	m := newFlipModel(0.4, 10, 0.6)
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineRealOutputs("x")
	require.NoError(t, w.Init("flip1", StartValues{}, 0))

	tStar := math.Log(0.6/0.4) / 10
	reached, err := w.Sync(0, 0)
	require.NoError(t, err)

	// The look-ahead stops at the event, already handled: the state
	// reflects the post-event branch.
	assert.InDelta(t, tStar, reached, 1e-6)
	assert.Equal(t, 1, m.flips)
	assert.Equal(t, -1.0, m.mode)

	// Continuing integrates the decaying branch.
	reached2, err := w.Sync(0, reached)
	require.NoError(t, err)
	assert.Greater(t, reached2, reached)

	last := w.Predictions()[len(w.Predictions())-1]
	assert.Less(t, last.States[0], 0.6+1e-6, "x must decay after the flip")
}

func TestTimeEvent(t *testing.T) {
	m := &alarmModel{alarmAt: 0.25}
	w, err := New(m, defaultConfig())
	require.NoError(t, err)
	w.DefineBooleanOutputs("fired")
	require.NoError(t, w.Init("alarm1", StartValues{}, 0))

	reached, err := w.Sync(0, 0)
	require.NoError(t, err)

	// The look-ahead stops at the declared time event and handles it.
	assert.InDelta(t, 0.25, reached, 1e-9)
	assert.True(t, m.fired)
}

func TestUninitializedSyncFails(t *testing.T) {
	w, err := New(&rampModel{}, defaultConfig())
	require.NoError(t, err)
	_, err = w.Sync(0, 0)
	assert.Error(t, err)
}
