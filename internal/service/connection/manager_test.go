package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu         sync.Mutex
	authErr    error
	listen     chan error
	subscribed [][]string
	unsub      [][]string
	closed     bool
}

func (s *fakeSession) Authenticate(context.Context) error { return s.authErr }

func (s *fakeSession) Subscribe(_ context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, symbols)
	return nil
}

func (s *fakeSession) Unsubscribe(_ context.Context, symbols []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsub = append(s.unsub, symbols)
	return nil
}

func (s *fakeSession) Listen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.listen:
		return err
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) subscriptions() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.subscribed...)
}

// fakeDialer hands out sessions from a queue; a nil entry fails the dial.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	dials    int
}

func (d *fakeDialer) Dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.sessions) == 0 {
		return nil, errors.New("connection refused")
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	if s == nil {
		return nil, errors.New("connection refused")
	}
	return s, nil
}

func TestBackoff(t *testing.T) {
	base, limit := time.Second, 30*time.Second
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, Backoff(base, limit, i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, Backoff(base, limit, 0))
	assert.Equal(t, limit, Backoff(base, limit, 200))
}

func TestExhaustedReconnectsFailOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		delays []time.Duration
		failed []error
	)
	d := &fakeDialer{}
	m := NewManager(Config{Base: time.Second, Cap: 30 * time.Second, MaxAttempts: 5}, d,
		WithSleep(func(_ context.Context, dl time.Duration) error {
			mu.Lock()
			delays = append(delays, dl)
			mu.Unlock()
			return nil
		}),
		WithHooks(Hooks{OnFailed: func(err error) {
			mu.Lock()
			failed = append(failed, err)
			mu.Unlock()
		}}),
	)

	require.NoError(t, m.Run(context.Background()))

	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, delays)
	assert.Equal(t, 6, d.dials)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], ErrExhausted)
}

func TestConnectResetsAttemptsAndResubscribesFullSet(t *testing.T) {
	first := &fakeSession{listen: make(chan error, 1)}
	second := &fakeSession{listen: make(chan error, 1)}
	d := &fakeDialer{sessions: []*fakeSession{first, nil, second}}

	connected := make(chan struct{}, 4)
	var states []State
	var mu sync.Mutex
	m := NewManager(Config{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 5}, d,
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithHooks(Hooks{
			OnConnected: func() { connected <- struct{}{} },
			OnStateChange: func(_, next State) {
				mu.Lock()
				states = append(states, next)
				mu.Unlock()
			},
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Subscribe(ctx, "AAPL"))
	require.NoError(t, m.Subscribe(ctx, "AAPL"))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitConnected(t, connected)
	assert.Equal(t, [][]string{{"AAPL"}}, first.subscriptions())
	require.NoError(t, m.Subscribe(ctx, "MSFT"))
	require.NoError(t, m.Subscribe(ctx, "MSFT"))
	assert.Equal(t, [][]string{{"AAPL"}, {"MSFT"}}, first.subscriptions())

	first.listen <- errors.New("read: connection reset")
	waitConnected(t, connected)

	assert.Equal(t, 0, m.Attempts())
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, [][]string{{"AAPL", "MSFT"}}, second.subscriptions())
	assert.Equal(t, []string{"AAPL", "MSFT"}, m.Symbols())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateDisconnected, m.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateConnecting, StateAuthenticating, StateConnected,
		StateReconnecting, StateConnecting, // refused dial
		StateReconnecting, StateConnecting, StateAuthenticating, StateConnected,
		StateDisconnected,
	}, states)
}

func TestAuthFailureIsTerminal(t *testing.T) {
	d := &fakeDialer{sessions: []*fakeSession{{authErr: ErrAuthFailed}}}
	var failed error
	m := NewManager(Config{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 5}, d,
		WithHooks(Hooks{OnFailed: func(err error) { failed = err }}))

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, StateFailed, m.State())
	assert.ErrorIs(t, failed, ErrAuthFailed)
	assert.Equal(t, 1, d.dials)
}

func TestUnsubscribeWhileDisconnectedOnlyEditsSet(t *testing.T) {
	m := NewManager(Config{}, &fakeDialer{})
	ctx := context.Background()
	require.NoError(t, m.Subscribe(ctx, "TSLA"))
	require.NoError(t, m.Unsubscribe(ctx, "TSLA"))
	require.NoError(t, m.Unsubscribe(ctx, "TSLA"))
	assert.Empty(t, m.Symbols())
	assert.Equal(t, StateDisconnected, m.State())
}

func waitConnected(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
}

func TestSubscribeRacingConnectIsSentOnce(t *testing.T) {
	sess := &fakeSession{listen: make(chan error, 1)}
	d := &fakeDialer{sessions: []*fakeSession{sess}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connected := make(chan struct{}, 1)
	var m *Manager
	m = NewManager(Config{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 1}, d,
		WithHooks(Hooks{
			// lands right after the state flips, before the resubscribe goes out
			OnStateChange: func(_, next State) {
				if next == StateConnected {
					assert.NoError(t, m.Subscribe(ctx, "NVDA"))
				}
			},
			OnConnected: func() { connected <- struct{}{} },
		}),
	)
	require.NoError(t, m.Subscribe(ctx, "AAPL"))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	waitConnected(t, connected)

	var sent []string
	for _, batch := range sess.subscriptions() {
		sent = append(sent, batch...)
	}
	assert.ElementsMatch(t, []string{"AAPL", "NVDA"}, sent)
	assert.Equal(t, []string{"AAPL", "NVDA"}, m.Symbols())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
