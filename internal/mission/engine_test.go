package mission

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

func TestDeriveFaultTable(t *testing.T) {
	want := map[int]FaultCode{
		0: NoError,
		1: ContainerDescentRateFailure,
		2: PayloadDescentRateFailure,
		3: ContainerPositionFailure,
		4: PayloadPositionFailure,
		5: ReleaseFailure,
	}
	for code, fault := range want {
		got := Derive(telemetry.Sample{ErrorCode: code})
		assert.Equal(t, fault, got.Fault, "code %d", code)
	}
}

func TestDeriveUnmappedFaultIsUnknown(t *testing.T) {
	for _, code := range []int{-1, 6, 9, 1000} {
		got := Derive(telemetry.Sample{ErrorCode: code})
		assert.Equal(t, UnknownFault, got.Fault, "code %d", code)
		assert.NotEqual(t, NoError, got.Fault)
	}
}

func TestDeriveErrorCodeScenarios(t *testing.T) {
	assert.Equal(t, ContainerPositionFailure, Derive(telemetry.Sample{ErrorCode: 3}).Fault)
	assert.Equal(t, UnknownFault, Derive(telemetry.Sample{ErrorCode: 9}).Fault)
}

func TestDeriveStage(t *testing.T) {
	stages := []Stage{PreLaunch, ReadyToLaunch, Ascending, Cruising, Descending, Landed}
	for code, stage := range stages {
		assert.Equal(t, stage, Derive(telemetry.Sample{LaunchStage: code}).Stage)
	}
	assert.Equal(t, Unknown, Derive(telemetry.Sample{LaunchStage: 6}).Stage)
	assert.Equal(t, Unknown, Derive(telemetry.Sample{LaunchStage: -2}).Stage)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "Ready to Launch", ReadyToLaunch.Label())
	assert.Equal(t, "Science Payload position failure", PayloadPositionFailure.Label())
	assert.Equal(t, "Unknown Error", FaultCode(42).Label())
	assert.Equal(t, "Unknown", Stage(42).String())
}

func TestDerivedStateJSON(t *testing.T) {
	data, err := json.Marshal(DerivedState{Stage: Cruising, Fault: ReleaseFailure})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stage":"Cruising","fault":"ReleaseFailure"}`, string(data))
}

func TestEngineReportsTransitions(t *testing.T) {
	e := NewEngine()

	_, ok := e.Current()
	assert.False(t, ok)

	state, tr := e.Evaluate(telemetry.Sample{LaunchStage: 0})
	assert.Equal(t, PreLaunch, state.Stage)
	assert.True(t, tr.StageChanged)

	_, tr = e.Evaluate(telemetry.Sample{LaunchStage: 0})
	assert.False(t, tr.StageChanged)
	assert.False(t, tr.FaultChanged)

	state, tr = e.Evaluate(telemetry.Sample{LaunchStage: 2, ErrorCode: 5})
	assert.True(t, tr.StageChanged)
	assert.True(t, tr.FaultChanged)
	assert.Equal(t, PreLaunch, tr.Previous.Stage)
	assert.Equal(t, ReleaseFailure, state.Fault)

	cur, ok := e.Current()
	require.True(t, ok)
	assert.Equal(t, Ascending, cur.Stage)
}
