package wrapper

import (
	"math"

	"github.com/coupledsim/fmigate/pkg/events"
	"github.com/coupledsim/fmigate/pkg/metrics"
)

// The wrapper itself is the integrator's System: Evaluate is the ODE
// right-hand side against the model, StepCompleted commits accepted
// states and watches the event indicators. Once an event is flagged,
// further evaluations inside the same stepper call return the last-good
// derivatives and commits are refused, so the right-hand side is never
// driven past the discontinuity.

// Evaluate implements integrator.System.
func (w *Wrapper) Evaluate(t float64, x, dx []float64) {
	if w.intEventFlag {
		copy(dx, w.lastGoodDx)
		return
	}
	w.model.SetTime(t)
	w.model.SetContinuousStates(x)
	w.model.Derivatives(dx)
	copy(w.lastGoodDx, dx)
}

// StepCompleted implements integrator.System.
func (w *Wrapper) StepCompleted(t float64, x []float64) bool {
	if w.intEventFlag {
		return true
	}
	w.model.SetTime(t)
	w.model.SetContinuousStates(x)

	if w.checkStateEvent() {
		w.intEventFlag = true
		w.eventBracketHi = t
		return true
	}

	copy(w.lastGoodState, x)
	w.lastCompletedTime = t
	return false
}

// checkStateEvent compares the model's event indicators against the
// reference signs taken when the current integration interval started.
func (w *Wrapper) checkStateEvent() bool {
	if len(w.indBuf) == 0 {
		return false
	}
	w.model.EventIndicators(w.indBuf)
	for i := range w.indBuf {
		if w.refIndicators[i]*w.indBuf[i] < 0 {
			return true
		}
	}
	return false
}

func (w *Wrapper) refreshIndicators() {
	if len(w.refIndicators) > 0 {
		w.model.EventIndicators(w.refIndicators)
	}
}

// integrate advances the model from its current time to tstop with
// internal steps of deltaT, detecting and locating events. It returns
// the time actually reached: tstop, or the event time (with
// StopBeforeEvent, the last event-free time at most EventSearchPrecision
// before it).
func (w *Wrapper) integrate(tstop, deltaT float64) float64 {
	t := w.model.Time()

	// A deferred pre-event micro-step is taken when the previous
	// look-ahead stopped just before an event and integration resumes
	// from that exact point.
	if w.eventPending {
		if math.Abs(t-w.pendingStopTime) < timeDiffResolution {
			w.takeDeferredEventStep()
			t = w.model.Time()
		} else {
			w.eventPending = false
		}
	}

	if tstop <= t+timeDiffResolution {
		return t
	}

	// A declared time event inside the interval bounds the integration.
	timeEvent := false
	if te := w.model.NextTimeEvent(); te > t+timeDiffResolution && te < tstop-timeDiffResolution {
		tstop = te
		timeEvent = true
	}

	if w.dim == 0 {
		w.model.SetTime(tstop)
	} else {
		x := make([]float64, w.dim)
		w.model.ContinuousStates(x)
		w.refreshIndicators()
		w.intEventFlag = false
		copy(w.lastGoodState, x)
		w.lastCompletedTime = t

		w.stepper.Integrate(w, x, t, tstop-t, deltaT)
		metrics.IntegratorStepsTotal.WithLabelValues(string(w.cfg.Integrator)).Inc()

		if w.intEventFlag {
			lo, hi := w.bisectEvent(deltaT)
			metrics.StateEventsTotal.Inc()
			w.publishEvent(events.EventStateEventDetected, hi)

			if w.cfg.StopBeforeEvent {
				w.deferEvent(false, lo, hi)
				return lo
			}
			w.crossEvent(lo, hi)
			return hi
		}
	}

	if timeEvent {
		metrics.TimeEventsTotal.Inc()
		w.publishEvent(events.EventTimeEventDetected, tstop)
		if w.cfg.StopBeforeEvent {
			w.deferEvent(true, tstop, tstop)
			return tstop
		}
		w.model.HandleEvent(tstop)
	}
	return tstop
}

// bisectEvent narrows the event interval [lastCompletedTime,
// eventBracketHi] down to the configured search precision. The model is
// left on the pre-event state at the returned lower bound.
func (w *Wrapper) bisectEvent(deltaT float64) (lo, hi float64) {
	lo = w.lastCompletedTime
	hi = w.eventBracketHi
	loState := append([]float64(nil), w.lastGoodState...)

	for hi-lo > w.cfg.EventSearchPrecision {
		mid := lo + (hi-lo)/2
		if mid <= lo || mid >= hi {
			break // step below float resolution
		}

		x := append([]float64(nil), loState...)
		w.model.SetTime(lo)
		w.model.SetContinuousStates(x)
		w.refreshIndicators()
		w.intEventFlag = false
		copy(w.lastGoodState, loState)
		w.lastCompletedTime = lo

		w.stepper.Integrate(w, x, lo, mid-lo, math.Min(deltaT, (mid-lo)/2))

		if w.intEventFlag {
			hi = w.eventBracketHi
		} else {
			lo = w.lastCompletedTime
			copy(loState, w.lastGoodState)
		}
	}

	w.intEventFlag = false
	copy(w.lastGoodState, loState)
	w.lastCompletedTime = lo
	w.model.SetTime(lo)
	w.model.SetContinuousStates(loState)
	return lo, hi
}

// crossEvent advances one explicit-Euler sub-step from the pre-event
// state across the boundary, so the model observes the event exactly
// once, then lets it handle the discrete update.
func (w *Wrapper) crossEvent(lo, hi float64) {
	x := append([]float64(nil), w.lastGoodState...)
	dx := make([]float64, w.dim)

	w.model.SetTime(lo)
	w.model.SetContinuousStates(x)
	w.model.Derivatives(dx)
	for i := range x {
		x[i] += (hi - lo) * dx[i]
	}

	w.model.SetTime(hi)
	w.model.SetContinuousStates(x)
	w.model.HandleEvent(hi)

	copy(w.lastGoodState, x)
	w.model.ContinuousStates(w.lastGoodState)
	w.lastCompletedTime = hi
}

func (w *Wrapper) deferEvent(isTimeEvent bool, stopTime, eventTime float64) {
	w.eventPending = true
	w.pendingIsTimeEvent = isTimeEvent
	w.pendingStopTime = stopTime
	w.pendingEventTime = eventTime
	w.deferredState = append(w.deferredState[:0], w.lastGoodState...)
	w.model.SetTime(stopTime)
	w.model.SetContinuousStates(w.lastGoodState)
}

func (w *Wrapper) takeDeferredEventStep() {
	if w.pendingIsTimeEvent {
		w.model.HandleEvent(w.pendingEventTime)
	} else {
		copy(w.lastGoodState, w.deferredState)
		w.model.SetTime(w.pendingStopTime)
		w.model.SetContinuousStates(w.deferredState)
		w.crossEvent(w.pendingStopTime, w.pendingEventTime)
	}
	w.eventPending = false
	w.intEventFlag = false
}

func (w *Wrapper) publishEvent(t events.EventType, at float64) {
	w.lg.Debug().Str("category", "DEBUG").Float64("t", at).Str("event", string(t)).
		Msg("event detected during look-ahead")
}
