// Package ringbuf provides a fixed-capacity overwrite ring for equity curve
// points. Once full, new pushes evict the oldest point, so the ring always
// holds the most recent window of the curve.
package ringbuf

import (
	"sync"

	"signaltrader/internal/model"
)

// Ring is a bounded history of equity points. Safe for concurrent use.
type Ring struct {
	mu    sync.RWMutex
	buf   []model.EquityPoint
	head  int // next write slot
	count int
}

// New creates a ring holding up to capacity points. Minimum capacity is 2.
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{buf: make([]model.EquityPoint, capacity)}
}

// Push appends a point, evicting the oldest when the ring is full.
func (r *Ring) Push(p model.EquityPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Recent returns up to n points, oldest first. n <= 0 returns the full window.
func (r *Ring) Recent(n int) []model.EquityPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]model.EquityPoint, n)
	// Oldest of the requested window sits n slots behind head.
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of points currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}
