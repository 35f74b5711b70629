package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmat/gcs-telemetry/internal/transport"
)

// fakeConn returns its frames, then endErr, or blocks until closed when endErr is nil.
type fakeConn struct {
	frames [][]byte
	endErr error
	hold   time.Duration

	idx    int
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(endErr error, frames ...string) *fakeConn {
	c := &fakeConn{endErr: endErr, closed: make(chan struct{})}
	for _, f := range frames {
		c.frames = append(c.frames, []byte(f))
	}
	return c
}

func (c *fakeConn) ReadFrame(ctx context.Context) ([]byte, error) {
	if c.idx < len(c.frames) {
		c.idx++
		return c.frames[c.idx-1], nil
	}
	if c.endErr != nil {
		if c.hold > 0 {
			time.Sleep(c.hold)
		}
		return nil, c.endErr
	}
	select {
	case <-ctx.Done():
		return nil, &transport.Error{Kind: transport.Closed, Op: "read", Err: ctx.Err()}
	case <-c.closed:
		return nil, &transport.Error{Kind: transport.Closed, Op: "read"}
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// scriptedDialer hands out conns (or errors) in order; past the end it fails.
type scriptedDialer struct {
	mu    sync.Mutex
	steps []any
	dials []time.Time
}

func (d *scriptedDialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, time.Now())
	if len(d.steps) == 0 {
		return nil, &transport.Error{Kind: transport.ConnectFailed, Op: "dial", Err: errors.New("refused")}
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	switch v := step.(type) {
	case *fakeConn:
		return v, nil
	case error:
		return nil, v
	}
	panic("bad step")
}

func (d *scriptedDialer) dialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dials...)
}

type recordingListener struct {
	mu     sync.Mutex
	states []State
}

func (l *recordingListener) PublishConnectivity(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *recordingListener) seen() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type countingHandler struct {
	frames atomic.Int64
	bad    atomic.Int64
}

func (h *countingHandler) HandleFrame(raw []byte) error {
	h.frames.Add(1)
	if string(raw) == "bad" {
		h.bad.Add(1)
		return errors.New("bad frame")
	}
	return nil
}

func testConfig(initial time.Duration) Config {
	return Config{Backoff: BackoffConfig{Initial: initial, Max: 8 * initial, MinUptime: time.Hour}}
}

func startSession(t *testing.T, s *Session) chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	return errc
}

func shutdown(t *testing.T, s *Session, errc chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errc)
	assert.Equal(t, Closed, s.State())
}

func TestSessionConnectsThenBacksOffAfterDrop(t *testing.T) {
	dropped := newFakeConn(&transport.Error{Kind: transport.ConnectReset, Op: "read"}, "a", "b")
	steady := newFakeConn(nil)
	dialer := &scriptedDialer{steps: []any{dropped, steady}}
	listener := &recordingListener{}
	handler := &countingHandler{}

	s := NewSession(dialer, handler, listener, testConfig(100*time.Millisecond))
	assert.Equal(t, Disconnected, s.State())

	errc := startSession(t, s)

	require.Eventually(t, func() bool {
		return s.State() == Connecting && s.LastBackoff() > 0
	}, time.Second, time.Millisecond, "drop must lead to Connecting with a backoff")
	assert.Equal(t, 100*time.Millisecond, s.LastBackoff())

	require.Eventually(t, func() bool { return s.State() == Connected && len(dialer.dialTimes()) == 2 }, 2*time.Second, 5*time.Millisecond)

	dials := dialer.dialTimes()
	assert.GreaterOrEqual(t, dials[1].Sub(dials[0]), 100*time.Millisecond)
	assert.Equal(t, int64(2), handler.frames.Load())

	shutdown(t, s, errc)

	assert.Equal(t, []State{Connecting, Connected, Disconnected, Connecting, Connected, Closing, Closed}, listener.seen())
	st := s.Stats()
	assert.Equal(t, uint64(2), st.Connects)
	assert.Equal(t, uint64(1), st.Drops)
}

func TestSessionSkipsRejectedFrames(t *testing.T) {
	conn := newFakeConn(nil, "ok", "bad", "ok")
	dialer := &scriptedDialer{steps: []any{conn}}
	handler := &countingHandler{}

	s := NewSession(dialer, handler, nil, testConfig(10*time.Millisecond))
	errc := startSession(t, s)

	require.Eventually(t, func() bool { return handler.frames.Load() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, Connected, s.State())
	assert.Equal(t, uint64(1), s.Stats().Rejected)
	assert.Len(t, dialer.dialTimes(), 1)

	shutdown(t, s, errc)
}

func TestSessionDialFailuresGrowBackoff(t *testing.T) {
	dialer := &scriptedDialer{}
	s := NewSession(dialer, &countingHandler{}, nil, Config{Backoff: BackoffConfig{
		Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, MinUptime: time.Hour,
	}})
	errc := startSession(t, s)

	require.Eventually(t, func() bool { return s.LastBackoff() == 20*time.Millisecond }, 2*time.Second, time.Millisecond)
	assert.Equal(t, Connecting, s.State())

	shutdown(t, s, errc)

	n := len(dialer.dialTimes())
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, len(dialer.dialTimes()), "no reconnect after Closed")
}

func TestSessionBackoffResetsAfterStableConnection(t *testing.T) {
	reset := &transport.Error{Kind: transport.ConnectReset, Op: "read"}

	// short-lived connections keep doubling the delay
	short := &scriptedDialer{steps: []any{newFakeConn(reset), newFakeConn(reset), newFakeConn(nil)}}
	s := NewSession(short, &countingHandler{}, nil, Config{Backoff: BackoffConfig{
		Initial: 10 * time.Millisecond, Max: time.Second, MinUptime: time.Hour,
	}})
	errc := startSession(t, s)
	require.Eventually(t, func() bool { return len(short.dialTimes()) == 3 && s.State() == Connected }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, s.LastBackoff())
	shutdown(t, s, errc)

	// connections outliving MinUptime restart the schedule
	first := newFakeConn(reset)
	first.hold = 30 * time.Millisecond
	second := newFakeConn(reset)
	second.hold = 30 * time.Millisecond
	stable := &scriptedDialer{steps: []any{first, second, newFakeConn(nil)}}
	s = NewSession(stable, &countingHandler{}, nil, Config{Backoff: BackoffConfig{
		Initial: 10 * time.Millisecond, Max: time.Second, MinUptime: 20 * time.Millisecond,
	}})
	errc = startSession(t, s)
	require.Eventually(t, func() bool { return len(stable.dialTimes()) == 3 && s.State() == Connected }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, s.LastBackoff())
	shutdown(t, s, errc)
}

func TestShutdownBeforeRun(t *testing.T) {
	listener := &recordingListener{}
	s := NewSession(&scriptedDialer{}, &countingHandler{}, listener, testConfig(time.Millisecond))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, Closed, s.State())
	assert.ErrorIs(t, s.Run(context.Background()), ErrSessionClosed)
	assert.Equal(t, []State{Closing, Closed}, listener.seen())

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, []State{Closing, Closed}, listener.seen())
}

func TestRunTwice(t *testing.T) {
	s := NewSession(&scriptedDialer{steps: []any{newFakeConn(nil)}}, &countingHandler{}, nil, testConfig(time.Millisecond))
	errc := startSession(t, s)
	require.Eventually(t, func() bool { return s.State() == Connected }, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Run(context.Background()), ErrAlreadyRunning)
	shutdown(t, s, errc)
}

func TestParentContextCancelClosesSession(t *testing.T) {
	s := NewSession(&scriptedDialer{steps: []any{newFakeConn(nil)}}, &countingHandler{}, nil, testConfig(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.State() == Connected }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Closed, s.State())
}

func TestBackoffSchedule(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: 30 * time.Second})

	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	for i := 0; i < 100; i++ {
		assert.Equal(t, 30*time.Second, b.Next())
	}

	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: 3 * time.Second, Jitter: 0.5})
	b.rnd = func() float64 { return 1 }

	assert.Equal(t, 1500*time.Millisecond, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 3*time.Second, b.Next())
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	assert.Equal(t, time.Second, b.Next())
}
