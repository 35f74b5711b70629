package forwarder

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/hub"
	"github.com/gmat/gcs-telemetry/internal/metrics"
)

type Options struct {
	BatchSize     int           // flush when this many records are buffered (default 100)
	FlushInterval time.Duration // flush at least this often (default 5s)
	MaxAttempts   int           // per batch, including the first (default 5)
	BaseDelay     time.Duration // first retry delay, doubled per attempt (default 500ms)
	FinalTimeout  time.Duration // budget for the flush after the hub closes (default 5s)
	QueueSize     int           // hub subscription capacity (default: hub default)
}

func (o Options) withDefaults() Options {
	if o.BatchSize < 1 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.FinalTimeout <= 0 {
		o.FinalTimeout = 5 * time.Second
	}
	return o
}

type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Records uint64 `json:"records"`
	Dropped uint64 `json:"dropped"`
}

// Forwarder archives accepted samples. It is an ordinary hub subscriber, so a
// slow sink costs it queued records but never delays ingestion or viewers.
type Forwarder struct {
	sub  *hub.Subscription
	sink Sink
	opts Options

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	sent    atomic.Uint64
	failed  atomic.Uint64
	records atomic.Uint64
}

// New subscribes to h; it does NOT start the archive loop.
func New(h *hub.Hub, sink Sink, opts Options) (*Forwarder, error) {
	opts = opts.withDefaults()
	sub, err := h.SubscribeSize(opts.QueueSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Forwarder{
		sub:    sub,
		sink:   sink,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start runs the archive loop. Call once.
func (f *Forwarder) Start() {
	f.wg.Add(1)
	go f.loop()
	log.Info().
		Int("batch_size", f.opts.BatchSize).
		Dur("flush_interval", f.opts.FlushInterval).
		Msg("forwarder started")
}

// Shutdown stops the loop, flushes what is buffered and closes the sink.
// Closing the hub first lets the loop drain every queued record.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	log.Info().Msg("forwarder shutdown initiated")
	f.sub.Close()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		log.Info().Msg("forwarder shutdown complete")
	case <-ctx.Done():
		f.cancel()
		err = ctx.Err()
		log.Warn().Msg("forwarder shutdown timeout")
	}
	f.cancel()

	if cerr := f.sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (f *Forwarder) Stats() Stats {
	return Stats{
		Sent:    f.sent.Load(),
		Failed:  f.failed.Load(),
		Records: f.records.Load(),
		Dropped: f.sub.Dropped(),
	}
}

func (f *Forwarder) loop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.opts.FlushInterval)
	defer ticker.Stop()

	buffer := make([]Record, 0, f.opts.BatchSize)
	final := func() {
		if len(buffer) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(f.ctx, f.opts.FinalTimeout)
		defer cancel()
		f.flushWithRetry(ctx, buffer)
	}

	for {
		select {
		case m, ok := <-f.sub.C():
			if !ok || m.Kind == hub.KindShutdown {
				final()
				return
			}
			if m.Kind != hub.KindTelemetry {
				continue
			}
			buffer = append(buffer, recordFrom(m))
			if len(buffer) >= f.opts.BatchSize {
				f.flushWithRetry(f.ctx, buffer)
				buffer = make([]Record, 0, f.opts.BatchSize)
			}

		case <-ticker.C:
			if len(buffer) > 0 {
				f.flushWithRetry(f.ctx, buffer)
				buffer = make([]Record, 0, f.opts.BatchSize)
			}
		}
	}
}

// flushWithRetry writes one batch, retrying with exponential backoff plus
// jitter. After MaxAttempts the batch is dropped.
func (f *Forwarder) flushWithRetry(ctx context.Context, records []Record) {
	batch := Batch{ID: uuid.NewString(), Records: records}
	start := time.Now()
	defer func() { metrics.ForwarderFlushSeconds.Observe(time.Since(start).Seconds()) }()

	for attempt := 1; ; attempt++ {
		err := f.sink.Write(ctx, batch)
		if err == nil {
			f.sent.Add(1)
			f.records.Add(uint64(len(records)))
			metrics.ForwarderBatches.WithLabelValues("ok").Inc()
			log.Debug().Int("count", len(records)).Str("correlation", batch.ID).Msg("archive batch written")
			return
		}

		log.Warn().Err(err).Int("attempt", attempt).Int("count", len(records)).Str("correlation", batch.ID).Msg("archive write failed")

		if attempt >= f.opts.MaxAttempts || errors.Is(err, context.Canceled) {
			f.failed.Add(1)
			metrics.ForwarderBatches.WithLabelValues("dropped").Inc()
			log.Error().Int("attempts", attempt).Str("correlation", batch.ID).Msg("dropping archive batch")
			return
		}

		delay := f.opts.BaseDelay << uint(attempt-1)
		delay += time.Duration(rand.Int63n(int64(f.opts.BaseDelay)))

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			f.failed.Add(1)
			metrics.ForwarderBatches.WithLabelValues("dropped").Inc()
			log.Warn().Str("correlation", batch.ID).Msg("forwarder context cancelled during backoff")
			return
		}
	}
}
