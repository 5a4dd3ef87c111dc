package middleware

import (
	"strings"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/logger"
)

// RealtimePipeline sits between a provider and the engine. It validates and
// normalizes every update and throttles quote ticks per symbol. Trades and
// bars are never throttled since volume and price rules depend on each one.
type RealtimePipeline struct {
	next    domrepo.MarketSink
	metrics domrepo.Metrics
	logger  *logger.Logger
	maxRPS  int
	now     func() time.Time

	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last accepted quote
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max quote ticks per second per symbol.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

func WithPipelineLogger(l *logger.Logger) PipelineOption {
	return func(p *RealtimePipeline) { p.logger = l }
}

func withClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) { p.now = now }
}

// NewRealtimePipeline wraps next.
func NewRealtimePipeline(next domrepo.MarketSink, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		next:     next,
		metrics:  metrics,
		logger:   logger.NewNop(),
		maxRPS:   20, // default throttle per symbol
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RealtimePipeline) OnTick(t models.Tick) {
	t.Symbol = normalize(t.Symbol)
	if !t.Valid() {
		p.drop("pipeline_validate", "dropping invalid tick", t.Symbol)
		return
	}
	if t.Kind == models.TickQuote && !p.allow(t.Symbol) {
		p.recordError("pipeline_throttle")
		return
	}
	p.next.OnTick(t)
}

func (p *RealtimePipeline) OnBar(symbol string, bar models.Bar) {
	symbol = normalize(symbol)
	if symbol == "" || !bar.Valid() {
		p.drop("pipeline_validate", "dropping invalid bar", symbol)
		return
	}
	p.next.OnBar(symbol, bar)
}

// OnHistory filters invalid bars; an empty result is still forwarded.
func (p *RealtimePipeline) OnHistory(symbol string, bars []models.Bar) {
	symbol = normalize(symbol)
	if symbol == "" {
		p.drop("pipeline_validate", "dropping history without symbol", symbol)
		return
	}
	valid := bars[:0:0]
	for _, b := range bars {
		if b.Valid() {
			valid = append(valid, b)
		}
	}
	if dropped := len(bars) - len(valid); dropped > 0 {
		p.logger.Warn("dropping invalid history bars", logger.String("symbol", symbol), logger.Int("dropped", dropped))
		p.recordError("pipeline_validate")
	}
	p.next.OnHistory(symbol, valid)
}

func (p *RealtimePipeline) OnConnected(provider string) { p.next.OnConnected(provider) }

func (p *RealtimePipeline) OnDisconnected(provider string, err error) {
	p.next.OnDisconnected(provider, err)
}

func (p *RealtimePipeline) OnFailed(provider string, err error) { p.next.OnFailed(provider, err) }

// Forget clears throttle state for symbol.
func (p *RealtimePipeline) Forget(symbol string) {
	p.mu.Lock()
	delete(p.lastSeen, normalize(symbol))
	p.mu.Unlock()
}

func (p *RealtimePipeline) drop(kind, msg, symbol string) {
	p.recordError(kind)
	p.logger.Warn(msg, logger.String("symbol", symbol))
}

func (p *RealtimePipeline) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (p *RealtimePipeline) allow(symbol string) bool {
	if p.maxRPS <= 0 {
		return true
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[symbol]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[symbol] = now
	return true
}
