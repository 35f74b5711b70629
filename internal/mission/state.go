package mission

import (
	"encoding/json"

	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// Stage is the launch sequence position reported by the flight device.
type Stage int

const (
	PreLaunch Stage = iota
	ReadyToLaunch
	Ascending
	Cruising
	Descending
	Landed
	Unknown Stage = -1
)

var stageNames = map[Stage]string{
	PreLaunch:     "PreLaunch",
	ReadyToLaunch: "ReadyToLaunch",
	Ascending:     "Ascending",
	Cruising:      "Cruising",
	Descending:    "Descending",
	Landed:        "Landed",
	Unknown:       "Unknown",
}

var stageLabels = map[Stage]string{
	PreLaunch:     "Pre-Launch",
	ReadyToLaunch: "Ready to Launch",
	Ascending:     "Ascending",
	Cruising:      "Cruising",
	Descending:    "Descending",
	Landed:        "Landed",
	Unknown:       "Unknown",
}

// StageFromCode maps a launch-stage code; anything outside 0..5 is Unknown.
func StageFromCode(code int) Stage {
	if code < int(PreLaunch) || code > int(Landed) {
		return Unknown
	}
	return Stage(code)
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return stageNames[Unknown]
}

// Label is the operator-facing text shown on the status panel.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return stageLabels[Unknown]
}

func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// FaultCode classifies the device error code.
type FaultCode int

const (
	NoError FaultCode = iota
	ContainerDescentRateFailure
	PayloadDescentRateFailure
	ContainerPositionFailure
	PayloadPositionFailure
	ReleaseFailure
	UnknownFault FaultCode = -1
)

var faultTable = map[int]FaultCode{
	0: NoError,
	1: ContainerDescentRateFailure,
	2: PayloadDescentRateFailure,
	3: ContainerPositionFailure,
	4: PayloadPositionFailure,
	5: ReleaseFailure,
}

var faultNames = map[FaultCode]string{
	NoError:                     "NoError",
	ContainerDescentRateFailure: "ContainerDescentRateFailure",
	PayloadDescentRateFailure:   "PayloadDescentRateFailure",
	ContainerPositionFailure:    "ContainerPositionFailure",
	PayloadPositionFailure:      "PayloadPositionFailure",
	ReleaseFailure:              "ReleaseFailure",
	UnknownFault:                "UnknownFault",
}

var faultLabels = map[FaultCode]string{
	NoError:                     "No Error",
	ContainerDescentRateFailure: "Container descent rate failure",
	PayloadDescentRateFailure:   "Science Payload descent rate failure",
	ContainerPositionFailure:    "Container position failure",
	PayloadPositionFailure:      "Science Payload position failure",
	ReleaseFailure:              "Release failure",
	UnknownFault:                "Unknown Error",
}

// FaultFromCode never fails; unmapped codes become UnknownFault.
func FaultFromCode(code int) FaultCode {
	if f, ok := faultTable[code]; ok {
		return f
	}
	return UnknownFault
}

func (f FaultCode) String() string {
	if n, ok := faultNames[f]; ok {
		return n
	}
	return faultNames[UnknownFault]
}

func (f FaultCode) Label() string {
	if l, ok := faultLabels[f]; ok {
		return l
	}
	return faultLabels[UnknownFault]
}

// Active reports whether the fault should be surfaced as an alarm.
func (f FaultCode) Active() bool {
	return f != NoError
}

func (f FaultCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// DerivedState is the mission-level classification of the latest sample.
type DerivedState struct {
	Stage Stage     `json:"stage"`
	Fault FaultCode `json:"fault"`
}

// Derive classifies a sample. It is total: every input yields a state.
func Derive(s telemetry.Sample) DerivedState {
	return DerivedState{
		Stage: StageFromCode(s.LaunchStage),
		Fault: FaultFromCode(s.ErrorCode),
	}
}
