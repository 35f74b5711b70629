package store

import (
	"sync"

	"github.com/gmat/gcs-telemetry/internal/telemetry"
)

const (
	DefaultCapacity       = 50
	DefaultRawLogCapacity = 10
)

// Snapshot is a consistent copy of every channel, the raw log and the latest sample.
type Snapshot struct {
	Channels map[string][]Point `json:"channels"`
	RawLog   []string           `json:"rawLog"`
	Latest   *telemetry.Sample  `json:"latest,omitempty"`
	Samples  uint64             `json:"samples"`
}

// Store keeps the bounded per-channel history. Push is expected from a single
// writer (the ingestion loop); snapshots may be taken from any goroutine and
// always observe whole pushes.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*Ring[Point]
	rawLog   *Ring[string]
	latest   telemetry.Sample
	samples  uint64
}

// New creates a store; non-positive capacities fall back to the defaults.
func New(capacity, rawLogCapacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if rawLogCapacity <= 0 {
		rawLogCapacity = DefaultRawLogCapacity
	}

	channels := make(map[string]*Ring[Point], len(telemetry.Channels))
	for _, name := range telemetry.Channels {
		channels[name] = NewRing[Point](capacity)
	}

	return &Store{
		channels: channels,
		rawLog:   NewRing[string](rawLogCapacity),
	}
}

// Push appends the sample's scalar values to every channel and its raw text
// to the raw log in one step.
func (s *Store) Push(sample telemetry.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ring := range s.channels {
		v, _ := sample.Value(name)
		ring.Push(Point{Time: sample.Timestamp, Value: v})
	}
	s.rawLog.Push(sample.Raw)
	s.latest = sample
	s.samples++
}

// Snapshot returns a copy of one channel, oldest first.
func (s *Store) Snapshot(channel string) ([]Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring, ok := s.channels[channel]
	if !ok {
		return nil, false
	}
	return ring.Slice(), true
}

// SnapshotAll copies every channel plus the raw log (newest first).
func (s *Store) SnapshotAll() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Channels: make(map[string][]Point, len(s.channels)),
		RawLog:   s.rawLog.Reverse(),
		Samples:  s.samples,
	}
	for name, ring := range s.channels {
		snap.Channels[name] = ring.Slice()
	}
	if s.samples > 0 {
		latest := s.latest
		snap.Latest = &latest
	}
	return snap
}

// RawLog returns the raw source strings, newest first.
func (s *Store) RawLog() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rawLog.Reverse()
}

// Latest returns the most recent sample, if any.
func (s *Store) Latest() (telemetry.Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.samples > 0
}

// Count is the number of samples pushed since creation.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples
}

// Capacity is the per-channel ring capacity.
func (s *Store) Capacity() int {
	return s.channels[telemetry.ChannelTemperature].Cap()
}
