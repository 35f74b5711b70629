package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gmat/gcs-telemetry/internal/ingest"
	"github.com/gmat/gcs-telemetry/internal/metrics"
	"github.com/gmat/gcs-telemetry/internal/mission"
	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

var (
	ErrHubClosed          = errors.New("hub: closed")
	ErrSubscriptionClosed = errors.New("hub: subscription closed")
)

const DefaultQueueSize = 64

// Hub distributes messages to subscriptions.
//
// Publish, Subscribe, Unsubscribe and Close are serialised by mu. Fan-out
// under the lock is a non-blocking send per subscription, so the critical
// section is bounded by the number of subscribers, never by a consumer.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	queueSize int
	seq       uint64
	closed    bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int                          `json:"subscribers"`
	Published   uint64                       `json:"published"`
	Dropped     uint64                       `json:"dropped"`
	Closed      bool                         `json:"closed"`
	PerViewer   map[string]SubscriptionStats `json:"perViewer,omitempty"`
}

type SubscriptionStats struct {
	Sent    uint64    `json:"sent"`
	Dropped uint64    `json:"dropped"`
	Since   time.Time `json:"since"`
}

func New(queueSize int) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// Subscribe attaches a new viewer. Its queue starts empty: it sees only
// messages published after this call.
func (h *Hub) Subscribe() (*Subscription, error) {
	return h.SubscribeSize(0)
}

// SubscribeSize is Subscribe with a queue capacity other than the hub
// default; size < 1 means the default.
func (h *Hub) SubscribeSize(size int) (*Subscription, error) {
	if size < 1 {
		size = h.queueSize
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		ch:      make(chan Message, size),
		hub:     h,
		created: time.Now(),
	}
	h.subs[sub.id] = sub
	metrics.HubSubscribers.Set(float64(len(h.subs)))

	log.Debug().Str("subscription", sub.id).Int("subscribers", len(h.subs)).Msg("viewer subscribed")
	return sub, nil
}

// Unsubscribe detaches sub and closes its queue. Unknown or already removed
// subscriptions are ignored.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	sub.closeQueue()
	metrics.HubSubscribers.Set(float64(len(h.subs)))

	log.Debug().
		Str("subscription", sub.id).
		Uint64("dropped", sub.dropped.Load()).
		Int("subscribers", len(h.subs)).
		Msg("viewer unsubscribed")
}

// PublishTelemetry fans out one accepted sample with its derived state.
func (h *Hub) PublishTelemetry(s telemetry.Sample, d mission.DerivedState) {
	h.publish(Message{Kind: KindTelemetry, Sample: s, Derived: d})
}

// PublishConnectivity fans out an upstream state change.
func (h *Hub) PublishConnectivity(state ingest.State) {
	h.publish(Message{Kind: KindConnectivity, State: state})
}

func (h *Hub) publish(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.seq++
	m.Seq = h.seq
	m.At = time.Now().UTC()

	for _, sub := range h.subs {
		if sub.offer(m) {
			h.dropped.Add(1)
			metrics.HubDropped.Inc()
		}
	}
	h.published.Add(1)
	metrics.HubPublished.WithLabelValues(m.Kind.String()).Inc()
}

// Close sends the shutdown marker to every subscription and closes them.
// It is safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	h.seq++
	marker := Message{Seq: h.seq, Kind: KindShutdown, At: time.Now().UTC()}
	for id, sub := range h.subs {
		sub.offer(marker)
		sub.closeQueue()
		delete(h.subs, id)
	}
	metrics.HubSubscribers.Set(0)

	log.Info().Uint64("published", h.published.Load()).Uint64("dropped", h.dropped.Load()).Msg("hub closed")
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		Subscribers: len(h.subs),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Closed:      h.closed,
		PerViewer:   make(map[string]SubscriptionStats, len(h.subs)),
	}
	for id, sub := range h.subs {
		st.PerViewer[id] = SubscriptionStats{
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
			Since:   sub.created,
		}
	}
	return st
}

// Subscription is one viewer's view of the hub.
type Subscription struct {
	id      string
	ch      chan Message
	hub     *Hub
	created time.Time

	sent    atomic.Uint64
	dropped atomic.Uint64
	once    sync.Once
}

func (s *Subscription) ID() string { return s.id }

// C returns the delivery queue. It is closed after unsubscribe or hub shutdown.
func (s *Subscription) C() <-chan Message { return s.ch }

// Next waits for the next message.
func (s *Subscription) Next(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case m, ok := <-s.ch:
		if !ok {
			return Message{}, ErrSubscriptionClosed
		}
		return m, nil
	}
}

// Dropped is the number of messages evicted from this queue.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

// offer enqueues m, evicting the oldest queued message when full. It reports
// whether something was dropped. Callers hold hub.mu, so there is a single
// producer per queue.
func (s *Subscription) offer(m Message) bool {
	select {
	case s.ch <- m:
		s.sent.Add(1)
		return false
	default:
	}

	// queue full: drop oldest then enqueue
	dropped := false
	select {
	case <-s.ch:
		dropped = true
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- m:
		s.sent.Add(1)
	default:
		// only reachable with a zero-capacity queue
		dropped = true
		s.dropped.Add(1)
	}
	return dropped
}

func (s *Subscription) closeQueue() {
	s.once.Do(func() {
		close(s.ch)
	})
}
