package frontend

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coupledsim/fmigate/pkg/backend"
	"github.com/coupledsim/fmigate/pkg/types"
)

const testGUID = "{aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee}"

const gainModelXML = `<?xml version="1.0" encoding="UTF-8"?>
<fmiModelDescription fmiVersion="1.0" modelName="gain" guid="` + testGUID + `">
  <ModelVariables>
    <ScalarVariable name="u" valueReference="1" causality="input" variability="continuous">
      <Real start="0.0"/>
    </ScalarVariable>
    <ScalarVariable name="y" valueReference="2" causality="output" variability="continuous">
      <Real start="0.0"/>
    </ScalarVariable>
    <ScalarVariable name="k" valueReference="3" causality="internal" variability="parameter">
      <Real start="2.0"/>
    </ScalarVariable>
  </ModelVariables>
</fmiModelDescription>`

func writeFMU(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "modelDescription.xml"), []byte(gainModelXML), 0644))
	return dir
}

func testSegmentID() string {
	return fmt.Sprintf("fmigate_fe_%d_%d", time.Now().UnixNano(), rand.Intn(1<<16))
}

// gainWorker runs the worker side of the protocol in-process: y = k*u
// each step, with an optional per-step hook for protocol variations.
func gainWorker(t *testing.T, segmentID string, steps int, onStep func(step int, be *backend.Backend)) chan struct{} {
	t.Helper()
	done := make(chan struct{})

	go func() {
		defer close(done)

		be := backend.New(backend.Config{
			SegmentID:     segmentID,
			RetryInterval: 10 * time.Millisecond,
			MaxAttempts:   500,
			LogPath:       filepath.Join(t.TempDir(), "backend.log"),
		})
		if err := be.StartInitialization(); err != nil {
			t.Error(err)
			return
		}
		defer be.Terminate()

		if err := be.InitializeRealParameters("k"); err != nil {
			t.Error(err)
			return
		}
		if err := be.InitializeRealInputs("u"); err != nil {
			t.Error(err)
			return
		}
		if err := be.InitializeRealOutputs("y"); err != nil {
			t.Error(err)
			return
		}
		if onStep != nil {
			onStep(-1, be) // initialization turn
		}
		if err := be.EndInitialization(); err != nil {
			t.Error(err)
			return
		}

		k := make([]float64, 1)
		u := make([]float64, 1)
		for i := 0; i < steps; i++ {
			if err := be.WaitForMaster(); err != nil {
				t.Error(err)
				return
			}
			if err := be.GetRealParameters(k); err != nil {
				t.Error(err)
				return
			}
			if err := be.GetRealInputs(u); err != nil {
				t.Error(err)
				return
			}
			if err := be.SetRealOutputs([]float64{k[0] * u[0]}); err != nil {
				t.Error(err)
				return
			}
			if onStep != nil {
				onStep(i, be)
			}
			if err := be.SignalToMaster(); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	return done
}

func newTestAdapter(t *testing.T, segmentID string) *Adapter {
	t.Helper()
	a := New(Config{SegmentID: segmentID, DisableLaunch: true})
	t.Cleanup(func() { a.Close() })
	return a
}

func TestSmoke(t *testing.T) {
	// instantiate; initializeSlave; setReal(u, 3); doStep; getReal(y).
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	require.Equal(t, types.StatusOK, a.SetReal(1, 3.0))

	require.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))

	y, st := a.GetReal(2)
	assert.Equal(t, types.StatusOK, st)
	assert.Equal(t, 6.0, y)
	assert.Equal(t, 1.0, a.CurrentCommunicationPoint())

	<-done
}

func TestDirectoryRoundTrip(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))

	// Declared start values are visible before initialization.
	u, st := a.GetReal(1)
	require.Equal(t, types.StatusOK, st)
	assert.Equal(t, 0.0, u)
	k, st := a.GetReal(3)
	require.Equal(t, types.StatusOK, st)
	assert.Equal(t, 2.0, k)

	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	// The worker observes the value written before the step.
	require.Equal(t, types.StatusOK, a.SetReal(1, 7.0))
	require.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))
	y, _ := a.GetReal(2)
	assert.Equal(t, 14.0, y)

	<-done
}

func TestValueAccessByName(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	require.Equal(t, types.StatusOK, a.SetRealByName("u", 3.0))
	require.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))

	y, st := a.GetRealByName("y")
	assert.Equal(t, types.StatusOK, st)
	assert.Equal(t, 6.0, y)

	_, st = a.GetRealByName("missing")
	assert.Equal(t, types.StatusWarning, st)

	ref, kind, ok := a.RefByName("k")
	require.True(t, ok)
	assert.Equal(t, types.ValueReference(3), ref)
	assert.Equal(t, types.KindReal, kind)

	<-done
}

func TestSetterContractViolations(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))

	// Unknown handle warns and leaves the out parameter zeroed.
	v, st := a.GetReal(99)
	assert.Equal(t, types.StatusWarning, st)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, types.StatusWarning, a.SetReal(99, 1))

	// Writing an output warns and does not change state.
	assert.Equal(t, types.StatusWarning, a.SetReal(2, 123))
	y, _ := a.GetReal(2)
	assert.Equal(t, 0.0, y)

	// Drain the worker so it can exit.
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))
	require.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))
	<-done
}

func TestEnforcedStep(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, func(step int, be *backend.Backend) {
		if step == -1 { // during initialization
			be.EnforceTimeStep(0.5)
		}
	})

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	// Wrong step size while a step is enforced: Discard, state unchanged.
	assert.Equal(t, types.StatusDiscard, a.DoStep(0, 1.0, true))
	assert.Equal(t, 0.0, a.CurrentCommunicationPoint())

	// Matching step size succeeds and clears the enforcement.
	assert.Equal(t, types.StatusOK, a.DoStep(0, 0.5, true))
	assert.Equal(t, 0.5, a.CurrentCommunicationPoint())

	<-done
}

func TestRejectedStep(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 2, func(step int, be *backend.Backend) {
		if step == 0 {
			be.RejectStep()
		}
	})

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	assert.Equal(t, types.StatusDiscard, a.DoStep(0, 1.0, true))
	assert.Equal(t, 0.0, a.CurrentCommunicationPoint(), "discarded step must not advance time")

	assert.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))
	assert.Equal(t, 1.0, a.CurrentCommunicationPoint())

	<-done
}

func TestWrongCommunicationPoint(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	assert.Equal(t, types.StatusDiscard, a.DoStep(0.5, 1.0, true))
	assert.Equal(t, 0.0, a.CurrentCommunicationPoint())

	// A communication point within the tolerance is accepted.
	assert.Equal(t, types.StatusOK, a.DoStep(1e-12, 1.0, true))
	assert.Equal(t, 1.0, a.CurrentCommunicationPoint())

	<-done
}

func TestWorkerExit(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))
	require.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))

	// The worker exits normally after its single step; wait for its
	// termination notification to land.
	<-done

	// The next step observes the termination and fails fatally.
	assert.Equal(t, types.StatusFatal, a.DoStep(1.0, 1.0, true))

	// The adapter is poisoned from here on.
	assert.Equal(t, types.StatusFatal, a.DoStep(2.0, 1.0, true))
	assert.Equal(t, types.StatusFatal, a.InitializeSlave(0, false, 0))
	_, st := a.GetReal(2)
	assert.Equal(t, types.StatusFatal, st)
}

func TestStepFinishedCallback(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 1, nil)

	var outcomes []types.Status
	a := New(Config{
		SegmentID:     segID,
		DisableLaunch: true,
		StepFinished:  func(st types.Status) { outcomes = append(outcomes, st) },
	})
	t.Cleanup(func() { a.Close() })

	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))

	assert.Equal(t, types.StatusDiscard, a.DoStep(0.5, 1.0, true))
	assert.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))

	assert.Equal(t, []types.Status{types.StatusDiscard, types.StatusOK}, outcomes)
	<-done
}

func TestControlSlotsReachWorker(t *testing.T) {
	segID := testSegmentID()

	type snapshot struct {
		commPoint   float64
		stopTime    float64
		stopDefined bool
		stepSize    float64
	}
	var seen snapshot

	done := gainWorker(t, segID, 1, func(step int, be *backend.Backend) {
		if step == 0 {
			seen = snapshot{
				commPoint:   be.CurrentCommunicationPoint(),
				stopTime:    be.StopTime(),
				stopDefined: be.StopTimeDefined(),
				stepSize:    be.CommunicationStepSize(),
			}
		}
	})

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0.5, true, 9.5))
	require.Equal(t, types.StatusOK, a.DoStep(0.5, 0.25, true))
	<-done

	assert.Equal(t, 0.5, seen.commPoint)
	assert.Equal(t, 9.5, seen.stopTime)
	assert.True(t, seen.stopDefined)
	assert.Equal(t, 0.25, seen.stepSize)
}

func TestInstantiateFailures(t *testing.T) {
	t.Run("missing model description", func(t *testing.T) {
		a := newTestAdapter(t, testSegmentID())
		assert.Equal(t, types.StatusFatal, a.Instantiate("x", testGUID, t.TempDir(), false))
	})

	t.Run("wrong GUID", func(t *testing.T) {
		a := newTestAdapter(t, testSegmentID())
		assert.Equal(t, types.StatusFatal, a.Instantiate("x", "{wrong}", writeFMU(t), false))
	})

	t.Run("poisoned after fatal", func(t *testing.T) {
		a := newTestAdapter(t, testSegmentID())
		require.Equal(t, types.StatusFatal, a.Instantiate("x", "{wrong}", writeFMU(t), false))
		assert.Equal(t, types.StatusFatal, a.DoStep(0, 1, true))
	})
}

func TestTerminateWithoutWorkerExit(t *testing.T) {
	segID := testSegmentID()
	done := gainWorker(t, segID, 5, nil)

	a := newTestAdapter(t, segID)
	require.Equal(t, types.StatusOK, a.Instantiate("gain1", testGUID, writeFMU(t), false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))
	require.Equal(t, types.StatusOK, a.DoStep(0, 1.0, true))

	assert.Equal(t, types.StatusOK, a.Terminate())
	require.NoError(t, a.Close())

	// Unblock the worker goroutine: it is waiting for a turn that will
	// never come in this scenario; closing removed the segment, so just
	// let the test end without joining (the goroutine blocks on its
	// semaphore until the process exits).
	_ = done
}
