package provider

import (
	"context"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/connection"
	"MarketPulse/internal/service/polygon"
	"MarketPulse/internal/service/simulated"
	"MarketPulse/pkg/logger"
)

type StreamingConfig struct {
	Stream         polygon.StreamConfig
	Reconnect      connection.Config
	BootstrapDays  int
	BootstrapLimit time.Duration
}

// Streaming runs the Polygon websocket under a connection manager.
type Streaming struct {
	mgr     *connection.Manager
	boot    *bootstrapper
	logger  *logger.Logger
	metrics drepo.Metrics

	mu     sync.RWMutex
	sink   drepo.MarketSink
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStreaming(cfg StreamingConfig, history drepo.HistoryFetcher, synth *simulated.Generator, lgr *logger.Logger, metrics drepo.Metrics) *Streaming {
	return newStreaming(cfg, nil, history, synth, lgr, metrics)
}

// newStreaming builds the adapter; a nil dialer dials Polygon.
func newStreaming(cfg StreamingConfig, dialer connection.Dialer, history drepo.HistoryFetcher, synth *simulated.Generator, lgr *logger.Logger, metrics drepo.Metrics) *Streaming {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	if synth == nil {
		synth = simulated.NewGenerator(0, 0)
	}
	if cfg.BootstrapLimit <= 0 {
		cfg.BootstrapLimit = 30 * time.Second
	}
	s := &Streaming{logger: lgr.With(logger.String("provider", polygon.ProviderName)), metrics: metrics}
	if dialer == nil {
		dialer = polygon.NewDialer(cfg.Stream, s, lgr, metrics)
	}
	s.mgr = connection.NewManager(cfg.Reconnect, dialer,
		connection.WithLogger(s.logger),
		connection.WithHooks(connection.Hooks{
			OnStateChange: func(prev, next connection.State) {
				if s.metrics != nil {
					s.metrics.RecordConnectionState(string(prev), string(next))
					if next == connection.StateReconnecting {
						s.metrics.RecordReconnect()
					}
				}
			},
			OnConnected: func() {
				if sink := s.currentSink(); sink != nil {
					sink.OnConnected(s.Name())
				}
			},
			OnDisconnected: func(err error) {
				if sink := s.currentSink(); sink != nil {
					sink.OnDisconnected(s.Name(), err)
				}
			},
			OnFailed: func(err error) {
				if sink := s.currentSink(); sink != nil {
					sink.OnFailed(s.Name(), err)
				}
			},
		}),
	)
	s.boot = &bootstrapper{
		fetcher: history,
		synth:   synth,
		days:    cfg.BootstrapDays,
		timeout: cfg.BootstrapLimit,
		logger:  s.logger,
		metrics: metrics,
		now:     time.Now,
	}
	return s
}

func (s *Streaming) Name() string { return polygon.ProviderName }

func (s *Streaming) currentSink() drepo.MarketSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

// OnTick and OnBar receive decoded session messages.
func (s *Streaming) OnTick(t models.Tick) {
	if sink := s.currentSink(); sink != nil {
		sink.OnTick(t)
	}
}

func (s *Streaming) OnBar(symbol string, bar models.Bar) {
	if sink := s.currentSink(); sink != nil {
		sink.OnBar(symbol, bar)
	}
}

func (s *Streaming) Start(ctx context.Context, sink drepo.MarketSink) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sink, s.ctx, s.cancel = sink, ctx, cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.mgr.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("connection manager stopped", logger.Error(err))
		}
	}()
	return nil
}

func (s *Streaming) Subscribe(symbol string) error {
	s.mu.RLock()
	ctx, sink := s.ctx, s.sink
	s.mu.RUnlock()
	if ctx == nil {
		return ErrNotStarted
	}

	fresh := true
	for _, sym := range s.mgr.Symbols() {
		if sym == symbol {
			fresh = false
			break
		}
	}
	if err := s.mgr.Subscribe(ctx, symbol); err != nil {
		// kept in the desired set; the next reconnect sends it
		s.logger.Warn("subscribe not sent", logger.String("symbol", symbol), logger.Error(err))
	}
	if fresh {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.boot.load(ctx, symbol, sink)
		}()
	}
	return nil
}

func (s *Streaming) Unsubscribe(symbol string) error {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		return ErrNotStarted
	}
	return s.mgr.Unsubscribe(ctx, symbol)
}

func (s *Streaming) ConnectionState() string { return string(s.mgr.State()) }

func (s *Streaming) ReconnectAttempts() int { return s.mgr.Attempts() }

func (s *Streaming) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return nil
}
