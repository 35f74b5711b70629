package mission

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

// Engine derives state per sample and remembers the last classification so
// stage and fault changes can be reported once instead of on every frame.
type Engine struct {
	mu sync.Mutex

	current     DerivedState
	initialized bool

	stageSince time.Time
	faultSince time.Time
}

// Transition describes what changed between two consecutive derivations.
type Transition struct {
	StageChanged bool
	FaultChanged bool
	Previous     DerivedState
}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate derives the state for s and records any transition.
func (e *Engine) Evaluate(s telemetry.Sample) (DerivedState, Transition) {
	next := Derive(s)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	tr := Transition{Previous: e.current}

	if !e.initialized {
		e.initialized = true
		e.current = next
		e.stageSince = now
		e.faultSince = now
		log.Info().
			Str("stage", next.Stage.String()).
			Str("fault", next.Fault.String()).
			Msg("mission state initialised")
		return next, Transition{StageChanged: true, FaultChanged: true, Previous: next}
	}

	if next.Stage != e.current.Stage {
		tr.StageChanged = true
		log.Info().
			Str("from", e.current.Stage.String()).
			Str("to", next.Stage.String()).
			Dur("held", now.Sub(e.stageSince)).
			Msg("launch stage changed")
		e.stageSince = now
	}

	if next.Fault != e.current.Fault {
		tr.FaultChanged = true
		ev := log.Info()
		if next.Fault.Active() {
			ev = log.Warn()
		}
		ev.Str("from", e.current.Fault.String()).
			Str("to", next.Fault.String()).
			Int("error_code", s.ErrorCode).
			Msg("fault condition changed")
		e.faultSince = now
	}

	e.current = next
	return next, tr
}

// Current returns the last derived state and whether any sample was seen.
func (e *Engine) Current() (DerivedState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.initialized
}
