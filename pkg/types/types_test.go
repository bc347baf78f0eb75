package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCausality(t *testing.T) {
	tests := []struct {
		in   string
		want Causality
	}{
		{"input", CausalityInput},
		{"output", CausalityOutput},
		{"parameter", CausalityParameter},
		{"internal", CausalityInternal},
		{"", DefaultCausality()},
		{"garbage", DefaultCausality()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCausality(tt.in), "input %q", tt.in)
	}
}

func TestParseVariability(t *testing.T) {
	tests := []struct {
		in   string
		want Variability
	}{
		{"constant", VariabilityConstant},
		{"continuous", VariabilityContinuous},
		{"tunable", VariabilityTunable},
		{"", DefaultVariability()},
		{"garbage", DefaultVariability()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseVariability(tt.in), "input %q", tt.in)
	}
}

func TestCausalityCodeRoundTrip(t *testing.T) {
	for _, c := range []Causality{
		CausalityInput, CausalityOutput, CausalityParameter, CausalityCalculatedParameter,
		CausalityLocal, CausalityIndependent, CausalityInternal, CausalityNone,
	} {
		assert.Equal(t, c, CausalityFromCode(c.Code()))
	}
	assert.Equal(t, CausalityNone, CausalityFromCode(255))
}

func TestVariabilityCodeRoundTrip(t *testing.T) {
	for _, v := range []Variability{
		VariabilityConstant, VariabilityDiscrete, VariabilityContinuous,
		VariabilityParameter, VariabilityFixed, VariabilityTunable,
	} {
		assert.Equal(t, v, VariabilityFromCode(v.Code()))
	}
	assert.Equal(t, VariabilityContinuous, VariabilityFromCode(255))
}

func TestWritable(t *testing.T) {
	assert.True(t, CausalityInput.Writable())
	assert.True(t, CausalityParameter.Writable())
	assert.True(t, CausalityInternal.Writable())
	assert.False(t, CausalityOutput.Writable())
	assert.False(t, CausalityLocal.Writable())
}

func TestParameterCausalityByVersion(t *testing.T) {
	assert.Equal(t, CausalityInternal, FMI1CS.ParameterCausality())
	assert.Equal(t, CausalityParameter, FMI2CS.ParameterCausality())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "discard", StatusDiscard.String())
	assert.Equal(t, "fatal", StatusFatal.String())
	assert.Equal(t, "unknown", Status(42).String())
}
