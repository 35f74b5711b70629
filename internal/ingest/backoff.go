package ingest

import (
	"math/rand"
	"time"
)

// BackoffConfig bounds the delay between reconnect attempts.
type BackoffConfig struct {
	Initial   time.Duration // first delay (default 1s)
	Max       time.Duration // cap (default 30s)
	MinUptime time.Duration // a connection this long resets the schedule (default 10s)
	Jitter    float64       // extra random fraction of the delay, 0..1
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:   1 * time.Second,
		Max:       30 * time.Second,
		MinUptime: 10 * time.Second,
	}
}

// Backoff yields Initial * 2^(attempt-1), capped at Max, plus optional jitter.
type Backoff struct {
	cfg     BackoffConfig
	attempt int
	rnd     func() float64
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	def := DefaultBackoffConfig()
	if cfg.Initial <= 0 {
		cfg.Initial = def.Initial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	return &Backoff{cfg: cfg, rnd: rand.Float64}
}

// Next advances the schedule and returns the delay to wait.
func (b *Backoff) Next() time.Duration {
	b.attempt++

	delay := b.cfg.Max
	if shift := b.attempt - 1; shift < 31 {
		if d := b.cfg.Initial << uint(shift); d > 0 && d < b.cfg.Max {
			delay = d
		}
	}

	if b.cfg.Jitter > 0 {
		delay += time.Duration(float64(delay) * b.cfg.Jitter * b.rnd())
		if delay > b.cfg.Max {
			delay = b.cfg.Max
		}
	}
	return delay
}

// Reset restarts the schedule at Initial.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempts() int { return b.attempt }
