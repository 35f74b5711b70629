package ingest

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gmat/gcs-telemetry/internal/metrics"
	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/store"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// Publisher receives every accepted sample with its derived state.
type Publisher interface {
	PublishTelemetry(s telemetry.Sample, d mission.DerivedState)
}

// Processor is the FrameHandler that decodes, stores, derives and publishes.
type Processor struct {
	decoder   telemetry.Decoder
	store     *store.Store
	engine    *mission.Engine
	publisher Publisher

	limiter    *rate.Limiter
	suppressed atomic.Uint64
	rejected   atomic.Uint64
	accepted   atomic.Uint64
}

// NewProcessor wires the pipeline. Rejected-frame warnings are limited to a
// few per second; the rest are only counted.
func NewProcessor(dec telemetry.Decoder, st *store.Store, engine *mission.Engine, pub Publisher) *Processor {
	if engine == nil {
		engine = mission.NewEngine()
	}
	return &Processor{
		decoder:   dec,
		store:     st,
		engine:    engine,
		publisher: pub,
		limiter:   rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
	}
}

func (p *Processor) HandleFrame(raw []byte) error {
	sample, err := p.decoder.Decode(raw)
	if err != nil {
		p.reject(raw, err)
		return err
	}

	p.store.Push(sample)
	derived, _ := p.engine.Evaluate(sample)
	p.accepted.Add(1)
	metrics.SamplesAccepted.Inc()

	if p.publisher != nil {
		p.publisher.PublishTelemetry(sample, derived)
	}
	return nil
}

func (p *Processor) reject(raw []byte, err error) {
	reason := telemetry.Malformed.String()
	var de *telemetry.DecodeError
	if errors.As(err, &de) {
		reason = de.Kind.String()
	}
	p.rejected.Add(1)
	metrics.FramesRejected.WithLabelValues(reason).Inc()

	if !p.limiter.Allow() {
		p.suppressed.Add(1)
		return
	}
	log.Warn().
		Err(err).
		Str("reason", reason).
		Int("bytes", len(raw)).
		Str("frame", preview(raw, 80)).
		Uint64("suppressed", p.suppressed.Swap(0)).
		Msg("dropping telemetry frame")
}

// Accepted and Rejected count frames since creation.
func (p *Processor) Accepted() uint64 { return p.accepted.Load() }
func (p *Processor) Rejected() uint64 { return p.rejected.Load() }

func preview(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
