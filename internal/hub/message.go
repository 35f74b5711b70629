package hub

import (
	"encoding/json"
	"time"

	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// Kind tags the payload carried by a Message.
type Kind int

const (
	KindTelemetry Kind = iota
	KindConnectivity
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindConnectivity:
		return "connectivity"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Message is one update delivered to a subscription. Sample and Derived are
// set for KindTelemetry, State for KindConnectivity.
type Message struct {
	Seq     uint64
	Kind    Kind
	At      time.Time
	Sample  telemetry.Sample
	Derived mission.DerivedState
	State   ingest.State
}

type telemetryPayload struct {
	Type    Kind                 `json:"type"`
	Seq     uint64               `json:"seq"`
	Sample  telemetry.Sample     `json:"sample"`
	Derived mission.DerivedState `json:"derived"`
}

type connectivityPayload struct {
	Type  Kind         `json:"type"`
	Seq   uint64       `json:"seq"`
	State ingest.State `json:"state"`
	At    time.Time    `json:"at"`
}

type shutdownPayload struct {
	Type Kind      `json:"type"`
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
}

// MarshalJSON renders the viewer wire format for the message kind.
func (m Message) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindTelemetry:
		return json.Marshal(telemetryPayload{Type: m.Kind, Seq: m.Seq, Sample: m.Sample, Derived: m.Derived})
	case KindConnectivity:
		return json.Marshal(connectivityPayload{Type: m.Kind, Seq: m.Seq, State: m.State, At: m.At})
	default:
		return json.Marshal(shutdownPayload{Type: m.Kind, Seq: m.Seq, At: m.At})
	}
}
