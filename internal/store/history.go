package store

import (
	"context"
	"sync"

	"github.com/papertrade/market-engine/internal/model"
)

// DefaultHistoryLength is the number of price points retained per symbol.
const DefaultHistoryLength = 100

// MemoryHistory implements HistoryStore with one fixed-capacity ring buffer
// per key. Append and eviction happen under the same lock.
type MemoryHistory struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

// NewMemoryHistory creates a history that keeps the latest capacity points
// per key. A non-positive capacity falls back to DefaultHistoryLength.
func NewMemoryHistory(capacity int) *MemoryHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryLength
	}
	return &MemoryHistory{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

func (h *MemoryHistory) AppendPrice(_ context.Context, key string, point model.PricePoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rings[key]
	if !ok {
		r = newRing(h.capacity)
		h.rings[key] = r
	}
	r.push(point)
	return nil
}

func (h *MemoryHistory) PriceHistory(_ context.Context, key string) ([]model.PricePoint, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rings[key]
	if !ok {
		return []model.PricePoint{}, nil
	}
	return r.snapshot(), nil
}

// ring is a fixed-capacity circular buffer. head is the index of the
// oldest element once the buffer is full.
type ring struct {
	buf  []model.PricePoint
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.PricePoint, capacity)}
}

func (r *ring) push(p model.PricePoint) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = p
		r.size++
		return
	}
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot copies the contents oldest first.
func (r *ring) snapshot() []model.PricePoint {
	out := make([]model.PricePoint, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}
