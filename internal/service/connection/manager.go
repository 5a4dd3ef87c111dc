// Package connection drives one streaming session through connect,
// authenticate, subscribe, and reconnect with bounded exponential backoff.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPulse/pkg/logger"
)

type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateReconnecting   State = "reconnecting"
	StateFailed         State = "failed"
)

// ErrAuthFailed is returned by a Session when the provider rejects the
// credentials. It is terminal: retrying the same key cannot succeed.
var ErrAuthFailed = errors.New("authentication rejected")

// ErrExhausted is reported through OnFailed once reconnect attempts run out.
var ErrExhausted = errors.New("reconnect attempts exhausted")

var errClosedByPeer = errors.New("stream closed by peer")

// Session is one live transport connection.
type Session interface {
	Authenticate(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Unsubscribe(ctx context.Context, symbols []string) error
	// Listen blocks delivering messages until the transport drops or ctx ends.
	Listen(ctx context.Context) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

type Config struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// Hooks are invoked from the Run goroutine.
type Hooks struct {
	OnStateChange  func(prev, next State)
	OnConnected    func()
	OnDisconnected func(err error)
	OnFailed       func(err error)
}

// Backoff returns the delay before reconnect attempt n (1-based):
// base*2^(n-1), capped.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit || d <= 0 {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

type Manager struct {
	cfg    Config
	dialer Dialer
	hooks  Hooks
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	attempts int
	desired  map[string]struct{}
	session  Session
}

type Option func(*Manager)

func WithHooks(h Hooks) Option { return func(m *Manager) { m.hooks = h } }

func WithLogger(l *logger.Logger) Option { return func(m *Manager) { m.log = l } }

// WithSleep replaces the backoff wait; tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

func NewManager(cfg Config, dialer Dialer, opts ...Option) *Manager {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Cap < cfg.Base {
		cfg.Cap = cfg.Base
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		log:     logger.NewNop(),
		sleep:   sleepCtx,
		state:   StateDisconnected,
		desired: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Symbols returns the desired subscription set, sorted.
func (m *Manager) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbolsLocked()
}

func (m *Manager) symbolsLocked() []string {
	out := make([]string, 0, len(m.desired))
	for s := range m.desired {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Subscribe adds symbol to the desired set and, when connected, sends the
// control message. Adding a symbol twice sends nothing the second time.
func (m *Manager) Subscribe(ctx context.Context, symbol string) error {
	m.mu.Lock()
	if _, ok := m.desired[symbol]; ok {
		m.mu.Unlock()
		return nil
	}
	m.desired[symbol] = struct{}{}
	sess := m.liveSessionLocked()
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Subscribe(ctx, []string{symbol}); err != nil {
		// the next reconnect resubscribes the full set
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	return nil
}

func (m *Manager) Unsubscribe(ctx context.Context, symbol string) error {
	m.mu.Lock()
	if _, ok := m.desired[symbol]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.desired, symbol)
	sess := m.liveSessionLocked()
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Unsubscribe(ctx, []string{symbol}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	}
	return nil
}

func (m *Manager) liveSessionLocked() Session {
	if m.state != StateConnected {
		return nil
	}
	return m.session
}

func (m *Manager) setState(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	if next == StateConnected {
		m.attempts = 0
	}
	m.mu.Unlock()
	m.stateChanged(prev, next)
}

// markConnected flips to Connected and snapshots the desired set under one
// lock. Symbols added after the flip send their own control message, so
// the snapshot never overlaps with them.
func (m *Manager) markConnected() []string {
	m.mu.Lock()
	prev := m.state
	m.state = StateConnected
	m.attempts = 0
	symbols := m.symbolsLocked()
	m.mu.Unlock()
	m.stateChanged(prev, StateConnected)
	return symbols
}

func (m *Manager) stateChanged(prev, next State) {
	if prev == next {
		return
	}
	m.log.Info("connection state changed", logger.String("from", string(prev)), logger.String("to", string(next)))
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(prev, next)
	}
}

// Run connects and keeps reconnecting until ctx ends or attempts run out.
// It returns nil after a terminal failure (reported through OnFailed) and
// ctx.Err() on cancellation.
func (m *Manager) Run(ctx context.Context) error {
	defer m.closeSession()

	for {
		err := m.connectAndListen(ctx)
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthFailed) {
			m.fail(err)
			return nil
		}

		m.log.Error("stream connection lost", logger.Error(err))
		if m.hooks.OnDisconnected != nil {
			m.hooks.OnDisconnected(err)
		}
		m.setState(StateReconnecting)

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if attempt > m.cfg.MaxAttempts {
			m.fail(fmt.Errorf("%w after %d attempts: %v", ErrExhausted, m.cfg.MaxAttempts, err))
			return nil
		}
		delay := Backoff(m.cfg.Base, m.cfg.Cap, attempt)
		m.log.Info("reconnecting", logger.Int("attempt", attempt), logger.Duration("delay", delay))
		if err := m.sleep(ctx, delay); err != nil {
			m.setState(StateDisconnected)
			return err
		}
	}
}

func (m *Manager) fail(err error) {
	m.log.Error("stream connection failed permanently", logger.Error(err))
	m.setState(StateFailed)
	if m.hooks.OnFailed != nil {
		m.hooks.OnFailed(err)
	}
}

func (m *Manager) connectAndListen(ctx context.Context) error {
	m.setState(StateConnecting)
	sess, err := m.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	defer m.closeSession()

	m.setState(StateAuthenticating)
	if err := sess.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	if symbols := m.markConnected(); len(symbols) > 0 {
		if err := sess.Subscribe(ctx, symbols); err != nil {
			return fmt.Errorf("resubscribe: %w", err)
		}
	}
	if m.hooks.OnConnected != nil {
		m.hooks.OnConnected()
	}
	if err := sess.Listen(ctx); err != nil {
		return err
	}
	return errClosedByPeer
}

func (m *Manager) closeSession() {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}
