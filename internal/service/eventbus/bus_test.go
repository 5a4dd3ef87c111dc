package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

func receive(t *testing.T, s *Subscription) models.Event {
	t.Helper()
	select {
	case e, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func TestSubscribersOnlySeeTheirCategories(t *testing.T) {
	b := New(8)
	alerts := b.Subscribe(0, models.EventAlert)
	all := b.Subscribe(0)

	b.Emit(models.EventTick, "AAPL", models.Tick{Symbol: "AAPL"})
	b.Emit(models.EventAlert, "AAPL", models.Alert{Type: models.AlertPriceMove})

	e := receive(t, alerts)
	assert.Equal(t, models.EventAlert, e.Category)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Len(t, alerts.C(), 0)

	assert.Equal(t, models.EventTick, receive(t, all).Category)
	assert.Equal(t, models.EventAlert, receive(t, all).Category)
}

func TestEachEmissionDeliveredOnceInOrder(t *testing.T) {
	b := New(100)
	s := b.Subscribe(0, models.EventBar)

	for i := 0; i < 50; i++ {
		b.Emit(models.EventBar, "NVDA", i)
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, i, receive(t, s).Payload)
	}
	assert.Len(t, s.C(), 0)
}

func TestFullBufferDropsOldest(t *testing.T) {
	b := New(2)
	var mu sync.Mutex
	drops := 0
	b.OnDrop = func(models.EventCategory) { mu.Lock(); drops++; mu.Unlock() }
	s := b.Subscribe(0)

	b.Emit(models.EventTick, "A", 1)
	b.Emit(models.EventTick, "A", 2)
	b.Emit(models.EventTick, "A", 3)

	assert.Equal(t, 2, receive(t, s).Payload)
	assert.Equal(t, 3, receive(t, s).Payload)
	mu.Lock()
	assert.Equal(t, 1, drops)
	mu.Unlock()
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	b := New(1)
	_ = b.Subscribe(0) // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Emit(models.EventTick, "A", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := New(4)
	s := b.Subscribe(0)
	other := b.Subscribe(0)

	s.Close()
	_, ok := <-s.C()
	assert.False(t, ok)
	assert.Equal(t, 1, b.Subscribers())

	b.Close()
	_, ok = <-other.C()
	assert.False(t, ok)

	late := b.Subscribe(0)
	_, ok = <-late.C()
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Emit(models.EventTick, "A", 1) })
}
