// Package eventbus fans events out to subscribers without ever blocking the
// publisher. A full subscriber buffer loses its oldest event.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"MarketPulse/internal/domain/models"
)

type Bus struct {
	bufSize int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	// OnDrop is called for every event discarded from a full subscriber.
	OnDrop func(category models.EventCategory)
}

func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufSize: bufferSize, subs: make(map[*Subscription]struct{})}
}

type Subscription struct {
	bus        *Bus
	categories map[models.EventCategory]struct{}

	mu     sync.Mutex // serializes sends so each subscriber sees publish order
	ch     chan models.Event
	closed bool
}

// Subscribe registers interest in categories; none means all of them.
// buffer <= 0 uses the bus default.
func (b *Bus) Subscribe(buffer int, categories ...models.EventCategory) *Subscription {
	if buffer <= 0 {
		buffer = b.bufSize
	}
	s := &Subscription{
		bus:        b,
		categories: make(map[models.EventCategory]struct{}, len(categories)),
		ch:         make(chan models.Event, buffer),
	}
	for _, c := range categories {
		s.categories[c] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// C is closed when the subscription or the bus is closed.
func (s *Subscription) C() <-chan models.Event { return s.ch }

func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.shut()
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) wants(c models.EventCategory) bool {
	if len(s.categories) == 0 {
		return true
	}
	_, ok := s.categories[c]
	return ok
}

func (s *Subscription) deliver(e models.Event) (dropped *models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- e:
		return nil
	default:
	}
	// full: make room by discarding the oldest queued event
	select {
	case old := <-s.ch:
		dropped = &old
	default:
	}
	select {
	case s.ch <- e:
	default:
		dropped = &e
	}
	return dropped
}

// Publish stamps e with an id and time if missing and hands it to every
// interested subscriber.
func (b *Bus) Publish(e models.Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(e.Category) {
			continue
		}
		if d := s.deliver(e); d != nil && b.OnDrop != nil {
			b.OnDrop(d.Category)
		}
	}
}

// Emit is shorthand for publishing a payload under category.
func (b *Bus) Emit(category models.EventCategory, symbol string, payload interface{}) {
	b.Publish(models.Event{Category: category, Symbol: symbol, Payload: payload})
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription; later Subscribe calls get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.shut()
	}
}
