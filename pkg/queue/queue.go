// Package queue paces provider requests: one item leaves the queue per tick,
// with at most one request in flight.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

var ErrSchedulerStopped = errors.New("request scheduler stopped")

// Config contains the configuration for the scheduler
type Config struct {
	RatePerMinute int           // provider quota
	Interval      time.Duration // overrides 60s/RatePerMinute when set
	Name          string        // metrics label
}

func (c Config) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	if c.RatePerMinute <= 0 {
		return time.Minute
	}
	return time.Minute / time.Duration(c.RatePerMinute)
}

type Scheduler struct {
	interval time.Duration
	name     string
	logger   *logger.Logger
	metrics  drepo.Metrics

	mu      sync.Mutex
	pending []*Request
	running bool
	stopped bool
}

func New(cfg Config, lgr *logger.Logger, metrics drepo.Metrics) *Scheduler {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = "provider"
	}
	return &Scheduler{interval: cfg.interval(), name: name, logger: lgr, metrics: metrics}
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

// Len is the number of requests waiting, not counting the one in flight.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Submit enqueues fn. The returned ticket always resolves, with
// ErrSchedulerStopped if the scheduler shuts down before fn runs.
func (s *Scheduler) Submit(ctx context.Context, kind Kind, fn RequestFunc) *Ticket {
	req := &Request{
		ID:       uuid.NewString(),
		Kind:     kind,
		Enqueued: time.Now(),
		ctx:      ctx,
		fn:       fn,
		done:     make(chan Result, 1),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		req.resolve(Result{Err: ErrSchedulerStopped})
		return &Ticket{ID: req.ID, done: req.done}
	}
	s.pending = append(s.pending, req)
	depth := len(s.pending)
	s.mu.Unlock()

	s.recordDepth(depth)
	return &Ticket{ID: req.ID, done: req.done}
}

// Do submits fn and waits for its result.
func (s *Scheduler) Do(ctx context.Context, kind Kind, fn RequestFunc) (interface{}, error) {
	return s.Submit(ctx, kind, fn).Wait(ctx)
}

// Call is Do with a typed result.
func Call[T any](ctx context.Context, s *Scheduler, kind Kind, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := s.Do(ctx, kind, func(ctx context.Context) (interface{}, error) { return fn(ctx) })
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("queue: unexpected result type %T", v)
	}
	return out, nil
}

// Run drains one request per interval until ctx ends, then fails whatever is
// still queued with ErrSchedulerStopped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("queue %s: already started", s.name)
	}
	s.running = true
	s.mu.Unlock()

	defer s.stop()

	s.logger.Info("request scheduler started",
		logger.String("queue", s.name), logger.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runNext()
		}
	}
}

func (s *Scheduler) runNext() {
	req := s.next()
	if req == nil {
		return
	}

	start := time.Now()
	// the single slot is held until fn returns; no timeout beyond the transport's
	v, err := req.fn(req.ctx)
	if s.metrics != nil {
		s.metrics.RecordLatency("queue_"+string(req.Kind), time.Since(start).Seconds())
		if err != nil {
			s.metrics.RecordError("queue_" + string(req.Kind))
		}
	}
	if err != nil {
		s.logger.Warn("queued request failed",
			logger.String("queue", s.name), logger.String("kind", string(req.Kind)), logger.Error(err))
	}
	req.resolve(Result{Value: v, Err: err})
}

// next pops the oldest request whose caller is still waiting.
func (s *Scheduler) next() *Request {
	s.mu.Lock()
	var picked *Request
	var skipped []*Request
	for len(s.pending) > 0 {
		req := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		if req.ctx.Err() != nil {
			skipped = append(skipped, req)
			continue
		}
		picked = req
		break
	}
	depth := len(s.pending)
	s.mu.Unlock()

	for _, req := range skipped {
		req.resolve(Result{Err: req.ctx.Err()})
	}
	s.recordDepth(depth)
	return picked
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	s.running = false
	left := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, req := range left {
		req.resolve(Result{Err: ErrSchedulerStopped})
	}
	s.recordDepth(0)
	s.logger.Info("request scheduler stopped", logger.String("queue", s.name), logger.Int("discarded", len(left)))
}

func (s *Scheduler) recordDepth(n int) {
	if s.metrics != nil {
		s.metrics.RecordQueueDepth(s.name, n)
	}
}
