package usecase

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"MarketPulse/internal/domain/models"
)

var ErrOutOfOrder = errors.New("bar older than the newest buffered bar")

// HistoryBuffer keeps a fixed-capacity ring of bars per symbol, oldest evicted first.
type HistoryBuffer struct {
	capacity int

	mu    sync.RWMutex
	rings map[string]*barRing
}

type barRing struct {
	bars []models.Bar
	head int // index of the oldest bar
	size int
}

func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &HistoryBuffer{capacity: capacity, rings: make(map[string]*barRing)}
}

func (h *HistoryBuffer) Capacity() int { return h.capacity }

// Append adds bar to the symbol's ring. It reports whether the oldest bar was
// evicted and rejects bars that would break timestamp order.
func (h *HistoryBuffer) Append(symbol string, bar models.Bar) (evicted bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.ring(symbol)
	if r.size > 0 {
		if last := r.at(r.size - 1); bar.Timestamp.Before(last.Timestamp) {
			return false, fmt.Errorf("%s at %s: %w", symbol, bar.Timestamp.Format("15:04:05.000"), ErrOutOfOrder)
		}
	}
	return r.push(bar), nil
}

// Seed merges bootstrap bars that are older than anything already buffered,
// so a late bootstrap never reorders live bars. It returns how many were kept.
func (h *HistoryBuffer) Seed(symbol string, bars []models.Bar) int {
	if len(bars) == 0 {
		return 0
	}
	sorted := make([]models.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Valid() {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.ring(symbol)
	existing := r.slice(r.size)
	if len(existing) > 0 {
		first := existing[0].Timestamp
		cut := sort.Search(len(sorted), func(i int) bool { return !sorted[i].Timestamp.Before(first) })
		sorted = sorted[:cut]
	}
	if len(sorted) == 0 {
		return 0
	}

	merged := append(sorted, existing...)
	if len(merged) > h.capacity {
		merged = merged[len(merged)-h.capacity:]
	}
	kept := len(merged) - len(existing)
	if kept < 0 {
		kept = 0
	}

	nr := &barRing{bars: make([]models.Bar, h.capacity)}
	for _, b := range merged {
		nr.push(b)
	}
	h.rings[symbol] = nr
	return kept
}

// Last returns up to n most recent bars, oldest first. n <= 0 returns all.
func (h *HistoryBuffer) Last(symbol string, n int) []models.Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.rings[symbol]
	if !ok {
		return nil
	}
	if n <= 0 || n > r.size {
		n = r.size
	}
	return r.slice(n)
}

func (h *HistoryBuffer) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rings[symbol]; ok {
		return r.size
	}
	return 0
}

func (h *HistoryBuffer) Remove(symbol string) {
	h.mu.Lock()
	delete(h.rings, symbol)
	h.mu.Unlock()
}

func (h *HistoryBuffer) ring(symbol string) *barRing {
	r, ok := h.rings[symbol]
	if !ok {
		r = &barRing{bars: make([]models.Bar, h.capacity)}
		h.rings[symbol] = r
	}
	return r
}

func (r *barRing) at(i int) models.Bar {
	return r.bars[(r.head+i)%len(r.bars)]
}

func (r *barRing) push(b models.Bar) (evicted bool) {
	if r.size < len(r.bars) {
		r.bars[(r.head+r.size)%len(r.bars)] = b
		r.size++
		return false
	}
	r.bars[r.head] = b
	r.head = (r.head + 1) % len(r.bars)
	return true
}

// slice copies the newest n bars, oldest first.
func (r *barRing) slice(n int) []models.Bar {
	out := make([]models.Bar, n)
	start := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.at(start + i)
	}
	return out
}
