package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/metrics"
	"github.com/gmat/gcs-telemetry/internal/transport"
)

var (
	ErrSessionClosed  = errors.New("ingest: session closed")
	ErrAlreadyRunning = errors.New("ingest: session already running")
)

// FrameHandler consumes one raw frame. A returned error means the frame was
// rejected; the session keeps reading.
type FrameHandler interface {
	HandleFrame(raw []byte) error
}

// StateListener is told about every session state transition.
type StateListener interface {
	PublishConnectivity(state State)
}

type Config struct {
	Backoff BackoffConfig
}

// SessionStats counts what the session has seen since creation.
type SessionStats struct {
	State       State         `json:"state"`
	Frames      uint64        `json:"frames"`
	Rejected    uint64        `json:"rejected"`
	Connects    uint64        `json:"connects"`
	Drops       uint64        `json:"drops"`
	LastBackoff time.Duration `json:"lastBackoff"`
}

// Session owns the upstream connection lifecycle:
//
//	Disconnected -> Connecting -> Connected -> Disconnected -> ...
//	any state -> Closing -> Closed
//
// Run is the only goroutine that reads frames and calls the handler.
type Session struct {
	dialer   transport.Dialer
	handler  FrameHandler
	listener StateListener
	backoff  *Backoff
	minUp    time.Duration

	state       atomic.Int32
	lastBackoff atomic.Int64
	frames      atomic.Uint64
	rejected    atomic.Uint64
	connects    atomic.Uint64
	drops       atomic.Uint64

	mu      sync.Mutex
	running bool
	closed  bool
	conn    transport.Conn

	stop    context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	stateMu sync.Mutex
}

// NewSession creates a session in the Disconnected state. listener may be nil.
func NewSession(dialer transport.Dialer, handler FrameHandler, listener StateListener, cfg Config) *Session {
	stop, cancel := context.WithCancel(context.Background())
	backoff := NewBackoff(cfg.Backoff)
	minUp := cfg.Backoff.MinUptime
	if minUp <= 0 {
		minUp = DefaultBackoffConfig().MinUptime
	}
	return &Session{
		dialer:   dialer,
		handler:  handler,
		listener: listener,
		backoff:  backoff,
		minUp:    minUp,
		stop:     stop,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// LastBackoff is the delay chosen before the most recent reconnect attempt.
func (s *Session) LastBackoff() time.Duration {
	return time.Duration(s.lastBackoff.Load())
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		State:       s.State(),
		Frames:      s.frames.Load(),
		Rejected:    s.rejected.Load(),
		Connects:    s.connects.Load(),
		Drops:       s.drops.Load(),
		LastBackoff: s.LastBackoff(),
	}
}

// Run connects and reads until ctx is cancelled or Shutdown is called.
// Transport failures never end Run; they only move the session back to
// Connecting. It returns nil after an orderly close.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer close(s.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(s.stop, cancel)
	defer stopWatch()

	log.Info().Msg("ingestion session started")

	first := true
	for ctx.Err() == nil {
		s.setState(Connecting)

		if !first {
			delay := s.backoff.Next()
			s.lastBackoff.Store(int64(delay))
			log.Info().
				Dur("backoff", delay).
				Int("attempt", s.backoff.Attempts()).
				Msg("waiting before reconnect")
			if !sleep(ctx, delay) {
				break
			}
		}
		first = false

		conn, err := s.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.ConnectAttempts.WithLabelValues("failed").Inc()
			metrics.TransportErrors.WithLabelValues(transport.KindOf(err).String()).Inc()
			log.Warn().Err(err).Msg("upstream connect failed")
			continue
		}
		metrics.ConnectAttempts.WithLabelValues("ok").Inc()
		s.connects.Add(1)

		if !s.attach(conn) {
			conn.Close()
			break
		}
		s.setState(Connected)
		connectedAt := time.Now()

		err = s.readLoop(ctx, conn)
		s.detach()
		conn.Close()

		if ctx.Err() != nil {
			break
		}

		uptime := time.Since(connectedAt)
		if uptime >= s.minUp {
			s.backoff.Reset()
		}
		s.drops.Add(1)
		metrics.TransportErrors.WithLabelValues(transport.KindOf(err).String()).Inc()
		log.Warn().Err(err).Dur("uptime", uptime).Msg("upstream connection lost")

		s.setState(Disconnected)
	}

	s.setState(Closing)
	s.detach()
	s.setState(Closed)
	log.Info().Uint64("frames", s.frames.Load()).Uint64("rejected", s.rejected.Load()).Msg("ingestion session closed")
	return nil
}

func (s *Session) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		frame, err := conn.ReadFrame(ctx)
		if err != nil {
			return err
		}
		s.frames.Add(1)
		metrics.FramesReceived.Inc()

		if err := s.handler.HandleFrame(frame); err != nil {
			s.rejected.Add(1)
		}
	}
}

// Shutdown stops the session and waits for Run to return or ctx to expire.
// No reconnection is attempted afterwards.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	running := s.running
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		// abort a read that does not watch its context
		conn.Close()
	}

	if !running {
		if !alreadyClosed {
			s.setState(Closing)
			s.setState(Closed)
		}
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		log.Warn().Msg("ingestion session shutdown timeout")
		return ctx.Err()
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) attach(conn transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

func (s *Session) detach() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
}

func (s *Session) setState(to State) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	metrics.SessionState.Set(float64(to))
	log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("session state")
	if s.listener != nil {
		s.listener.PublishConnectivity(to)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
