package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

func sample(ts float64) telemetry.Sample {
	return telemetry.Sample{Timestamp: ts, Altitude: ts * 10, Raw: "RAW"}
}

func drain(sub *Subscription) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestSubscribeStartsEmpty(t *testing.T) {
	h := New(8)
	defer h.Close()

	h.PublishTelemetry(sample(1), mission.DerivedState{})

	sub, err := h.Subscribe()
	require.NoError(t, err)
	assert.Empty(t, drain(sub))
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, 1, h.Len())
}

func TestPublishReachesEverySubscriberInOrder(t *testing.T) {
	h := New(16)
	defer h.Close()

	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)

	h.PublishConnectivity(ingest.Connected)
	for i := 1; i <= 5; i++ {
		h.PublishTelemetry(sample(float64(i)), mission.DerivedState{Stage: mission.Ascending})
	}

	for _, sub := range []*Subscription{a, b} {
		msgs := drain(sub)
		require.Len(t, msgs, 6)
		assert.Equal(t, KindConnectivity, msgs[0].Kind)
		assert.Equal(t, ingest.Connected, msgs[0].State)
		for i, m := range msgs[1:] {
			assert.Equal(t, KindTelemetry, m.Kind)
			assert.Equal(t, float64(i+1), m.Sample.Timestamp)
			assert.Equal(t, msgs[i].Seq+1, m.Seq)
		}
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := New(4)
	defer h.Close()

	slow, err := h.Subscribe()
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		h.PublishTelemetry(sample(float64(i)), mission.DerivedState{})
	}

	msgs := drain(slow)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, float64(7+i), m.Sample.Timestamp)
	}
	assert.Equal(t, uint64(6), slow.Dropped())
	assert.Equal(t, uint64(6), h.Stats().Dropped)
}

// A viewer that never reads must not slow down publishing to anyone else.
func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	h := New(2)
	defer h.Close()

	_, err := h.Subscribe() // never consumed
	require.NoError(t, err)
	fast, err := h.Subscribe()
	require.NoError(t, err)

	received := make(chan float64, 1000)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for m := range fast.C() {
			if m.Kind == KindTelemetry {
				received <- m.Sample.Timestamp
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 1; i <= 500; i++ {
			h.PublishTelemetry(sample(float64(i)), mission.DerivedState{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	fast.Close()
	wg.Wait()
	close(received)

	last := 0.0
	for ts := range received {
		assert.Greater(t, ts, last, "fast subscriber saw reordering")
		last = ts
	}
}

func TestUnsubscribeClosesQueue(t *testing.T) {
	h := New(4)
	defer h.Close()

	sub, err := h.Subscribe()
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	assert.NotPanics(t, func() {
		h.PublishTelemetry(sample(1), mission.DerivedState{})
	})
}

func TestCloseSendsShutdownAndRejectsSubscribers(t *testing.T) {
	h := New(4)

	sub, err := h.Subscribe()
	require.NoError(t, err)

	h.PublishConnectivity(ingest.Closed)
	h.Close()
	h.Close()

	msgs := drain(sub)
	require.Len(t, msgs, 2)
	assert.Equal(t, KindConnectivity, msgs[0].Kind)
	assert.Equal(t, KindShutdown, msgs[1].Kind)

	_, ok := <-sub.C()
	assert.False(t, ok)

	published := h.Stats().Published
	h.PublishTelemetry(sample(2), mission.DerivedState{})
	assert.Equal(t, published, h.Stats().Published, "publish after close must be a no-op")

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.True(t, h.Stats().Closed)
}

func TestShutdownMarkerSurvivesFullQueue(t *testing.T) {
	h := New(2)
	sub, err := h.Subscribe()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h.PublishTelemetry(sample(float64(i)), mission.DerivedState{})
	}
	h.Close()

	msgs := drain(sub)
	require.NotEmpty(t, msgs)
	assert.Equal(t, KindShutdown, msgs[len(msgs)-1].Kind)
}

func TestNextHonoursContext(t *testing.T) {
	h := New(4)
	defer h.Close()

	sub, err := h.Subscribe()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	h.PublishConnectivity(ingest.Connecting)
	m, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ingest.Connecting, m.State)
}

func TestMessageJSON(t *testing.T) {
	tel := Message{
		Seq:     7,
		Kind:    KindTelemetry,
		Sample:  telemetry.Sample{Timestamp: 5, LaunchStage: 3, ErrorCode: 1},
		Derived: mission.DerivedState{Stage: mission.Cruising, Fault: mission.ContainerDescentRateFailure},
	}
	data, err := json.Marshal(tel)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "telemetry", decoded["type"])
	assert.Equal(t, float64(7), decoded["seq"])
	assert.Equal(t, map[string]any{"stage": "Cruising", "fault": "ContainerDescentRateFailure"}, decoded["derived"])

	conn := Message{Seq: 8, Kind: KindConnectivity, State: ingest.Connecting}
	data, err = json.Marshal(conn)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"connectivity"`)
	assert.Contains(t, string(data), `"state":"connecting"`)
}

func TestSubscribeSizeOverridesQueue(t *testing.T) {
	h := New(2)
	defer h.Close()

	deep, err := h.SubscribeSize(10)
	require.NoError(t, err)
	shallow, err := h.SubscribeSize(0)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		h.PublishTelemetry(sample(float64(i)), mission.DerivedState{})
	}
	assert.Equal(t, uint64(0), deep.Dropped())
	assert.Equal(t, uint64(8), shallow.Dropped())
	assert.Len(t, deep.C(), 10)
}
