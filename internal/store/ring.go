package store

// Point is one (time, value) entry of a channel history.
type Point struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// Ring is a fixed-capacity FIFO. Appending to a full ring overwrites the
// oldest entry; storage is allocated once.
type Ring[T any] struct {
	buf  []T
	head int // index of the oldest element
	size int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
}

func (r *Ring[T]) Len() int { return r.size }

func (r *Ring[T]) Cap() int { return len(r.buf) }

// Slice copies the contents oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Reverse copies the contents newest first.
func (r *Ring[T]) Reverse() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+r.size-1-i)%len(r.buf)]
	}
	return out
}
