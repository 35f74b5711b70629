package forwarder

import (
	"time"

	"github.com/gmat/gcs-telemetry/internal/hub"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// Record is the archived form of one accepted sample.
type Record struct {
	Seq        uint64           `json:"seq"`
	ReceivedAt time.Time        `json:"received_at"`
	Sample     telemetry.Sample `json:"sample"`
	Stage      string           `json:"stage"`
	Fault      string           `json:"fault"`
}

// Batch is the unit handed to a Sink. ID doubles as the correlation id.
type Batch struct {
	ID      string   `json:"correlation_id"`
	Records []Record `json:"records"`
}

func recordFrom(m hub.Message) Record {
	return Record{
		Seq:        m.Seq,
		ReceivedAt: m.At,
		Sample:     m.Sample,
		Stage:      m.Derived.Stage.String(),
		Fault:      m.Derived.Fault.String(),
	}
}
