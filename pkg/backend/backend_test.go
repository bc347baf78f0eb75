package backend

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coupledsim/fmigate/pkg/frontend"
	"github.com/coupledsim/fmigate/pkg/types"
)

// The protocol-level behavior of the back end is exercised end to end
// by the frontend and app packages; the tests here cover the
// registration checks and name enumeration in isolation.

const testGUID = "{99999999-8888-7777-6666-555555555555}"

const mixedModelXML = `<?xml version="1.0" encoding="UTF-8"?>
<fmiModelDescription fmiVersion="1.0" modelName="mixed" guid="` + testGUID + `">
  <ModelVariables>
    <ScalarVariable name="u1" valueReference="1" causality="input"><Real start="0"/></ScalarVariable>
    <ScalarVariable name="u2" valueReference="2" causality="input"><Real start="0"/></ScalarVariable>
    <ScalarVariable name="y1" valueReference="3" causality="output"><Real start="0"/></ScalarVariable>
    <ScalarVariable name="p1" valueReference="4" causality="internal" variability="parameter"><Real start="1"/></ScalarVariable>
    <ScalarVariable name="flag" valueReference="5" causality="input"><Boolean start="false"/></ScalarVariable>
    <ScalarVariable name="label" valueReference="6" causality="output"><String start="idle"/></ScalarVariable>
  </ModelVariables>
</fmiModelDescription>`

func testSegmentID() string {
	return fmt.Sprintf("fmigate_be_%d_%d", time.Now().UnixNano(), rand.Intn(1<<16))
}

// withBackend runs fn on an attached back end during the worker's
// initialization turn, against a front end driving the master side.
func withBackend(t *testing.T, fn func(be *Backend)) {
	t.Helper()
	segID := testSegmentID()

	fmuDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fmuDir, "modelDescription.xml"), []byte(mixedModelXML), 0644))

	done := make(chan struct{})
	go func() {
		defer close(done)
		be := New(Config{
			SegmentID:     segID,
			RetryInterval: 10 * time.Millisecond,
			MaxAttempts:   500,
			LogPath:       filepath.Join(t.TempDir(), "backend.log"),
		})
		if err := be.StartInitialization(); err != nil {
			t.Error(err)
			return
		}
		defer be.Terminate()
		fn(be)
		if err := be.EndInitialization(); err != nil {
			t.Error(err)
		}
	}()

	a := frontend.New(frontend.Config{SegmentID: segID, DisableLaunch: true})
	t.Cleanup(func() { a.Close() })
	require.Equal(t, types.StatusOK, a.Instantiate("mixed1", testGUID, fmuDir, false))
	require.Equal(t, types.StatusOK, a.InitializeSlave(0, false, 0))
	<-done
}

func TestRegisterDeclaredVariables(t *testing.T) {
	withBackend(t, func(be *Backend) {
		assert.NoError(t, be.InitializeRealInputs("u1", "u2"))
		assert.NoError(t, be.InitializeRealOutputs("y1"))
		assert.NoError(t, be.InitializeRealParameters("p1"))
		assert.NoError(t, be.InitializeBooleanInputs("flag"))
		assert.NoError(t, be.InitializeStringOutputs("label"))

		u := make([]float64, 2)
		assert.NoError(t, be.GetRealInputs(u))

		labels := []string{"running"}
		assert.NoError(t, be.SetStringOutputs(labels))
	})
}

func TestRegisterUnknownVariable(t *testing.T) {
	withBackend(t, func(be *Backend) {
		assert.Error(t, be.InitializeRealInputs("no_such_variable"))
	})
}

func TestRegisterWrongCausality(t *testing.T) {
	withBackend(t, func(be *Backend) {
		// y1 is an output; registering it as an input must fail.
		assert.Error(t, be.InitializeRealInputs("y1"))
		// u1 is an input; registering it as an output must fail.
		assert.Error(t, be.InitializeRealOutputs("u1"))
		// p1 has FMI 1.0 parameter causality (internal), not input.
		assert.Error(t, be.InitializeRealInputs("p1"))
	})
}

func TestBufferLengthMismatch(t *testing.T) {
	withBackend(t, func(be *Backend) {
		require.NoError(t, be.InitializeRealInputs("u1", "u2"))

		assert.Error(t, be.GetRealInputs(make([]float64, 1)))
		assert.Error(t, be.SetRealOutputs(make([]float64, 3)))
	})
}

func TestScalarNameEnumeration(t *testing.T) {
	withBackend(t, func(be *Backend) {
		assert.ElementsMatch(t, []string{"u1", "u2"}, be.RealInputNames())
		assert.ElementsMatch(t, []string{"y1"}, be.RealOutputNames())
		assert.ElementsMatch(t, []string{"p1"}, be.RealParameterNames())
		assert.ElementsMatch(t, []string{"flag"}, be.BooleanInputNames())
		assert.ElementsMatch(t, []string{"label"}, be.StringOutputNames())
		assert.Empty(t, be.IntegerInputNames())
	})
}

func TestFMIVersionMapping(t *testing.T) {
	withBackend(t, func(be *Backend) {
		assert.Equal(t, types.FMI1CS, be.FMIVersion())
	})
}

func TestUninitializedBackend(t *testing.T) {
	be := New(Config{})
	assert.Error(t, be.EndInitialization())
	assert.Error(t, be.WaitForMaster())
	assert.Error(t, be.SignalToMaster())
	_, err := be.initializeVariables(types.KindReal, []string{"x"}, types.CausalityInput)
	assert.Error(t, err)
}
