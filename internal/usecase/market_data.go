package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/indicator"
	"MarketPulse/internal/middleware"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

var ErrInvalidSymbol = errors.New("invalid symbol")

// ProviderFactory hands out the configured provider and the simulated fallback.
type ProviderFactory interface {
	Primary() (drepo.Provider, error)
	Fallback() drepo.Provider
}

// priceSeeder is implemented by providers that can continue from known prices.
type priceSeeder interface {
	SeedPrice(symbol string, price float64)
}

type MarketDataConfig struct {
	Symbols         []string
	HistoryCapacity int
	MinWindow       int
	MaxQuoteRPS     int
	Signals         SignalThresholds
}

// MarketData owns the ingestion path: provider -> buffer and cache ->
// technicals -> signal detection -> events.
type MarketData struct {
	cfg      MarketDataConfig
	factory  ProviderFactory
	bus      *eventbus.Bus
	history  *HistoryBuffer
	quotes   *QuoteCache
	detector *SignalDetector
	sink     *middleware.RealtimePipeline
	logger   *logger.Logger
	metrics  drepo.Metrics
	now      func() time.Time

	// ingestMu serializes writers; readers go through the caches.
	ingestMu  sync.Mutex
	baselines map[string]float64

	mu         sync.RWMutex
	ctx        context.Context
	provider   drepo.Provider
	connected  bool
	failedOver bool
	watch      map[string]struct{}
	wg         sync.WaitGroup
}

func NewMarketData(cfg MarketDataConfig, factory ProviderFactory, bus *eventbus.Bus, lgr *logger.Logger, metrics drepo.Metrics) *MarketData {
	if cfg.MinWindow < indicator.MinBars {
		cfg.MinWindow = indicator.MinBars
	}
	if cfg.Signals == (SignalThresholds{}) {
		cfg.Signals = DefaultSignalThresholds()
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	m := &MarketData{
		cfg:       cfg,
		factory:   factory,
		bus:       bus,
		history:   NewHistoryBuffer(cfg.HistoryCapacity),
		quotes:    NewQuoteCache(),
		detector:  NewSignalDetector(cfg.Signals),
		logger:    lgr.With(logger.String("component", "market_data")),
		metrics:   metrics,
		now:       time.Now,
		baselines: make(map[string]float64),
		watch:     make(map[string]struct{}),
	}
	m.sink = middleware.NewRealtimePipeline(m, metrics,
		middleware.WithMaxRPS(cfg.MaxQuoteRPS),
		middleware.WithPipelineLogger(m.logger))
	return m
}

func (m *MarketData) Events() *eventbus.Bus { return m.bus }

// Start activates the configured provider and subscribes the initial watchlist.
func (m *MarketData) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.provider != nil {
		m.mu.Unlock()
		return fmt.Errorf("market data engine already started")
	}
	p, err := m.factory.Primary()
	if err != nil {
		m.logger.Warn("primary provider unavailable, using simulated", logger.Error(err))
		p = m.factory.Fallback()
	}
	m.ctx = ctx
	m.provider = p
	for _, s := range m.cfg.Symbols {
		if sym := util.NormalizeSymbol(s); sym != "" {
			m.watch[sym] = struct{}{}
		}
	}
	symbols := m.watchListLocked()
	m.mu.Unlock()

	if err := p.Start(ctx, m.sink); err != nil {
		return fmt.Errorf("start provider %s: %w", p.Name(), err)
	}
	for _, sym := range symbols {
		if err := p.Subscribe(sym); err != nil {
			m.logger.Warn("initial subscribe failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
	m.logger.Info("market data engine started",
		logger.String("provider", p.Name()), logger.Strings("symbols", symbols))
	return nil
}

func (m *MarketData) Close() error {
	m.mu.Lock()
	p := m.provider
	m.mu.Unlock()

	var err error
	if p != nil {
		err = p.Close()
	}
	m.wg.Wait()

	// a failover may have swapped in a new provider meanwhile
	m.mu.Lock()
	latest := m.provider
	m.mu.Unlock()
	if latest != nil && latest != p {
		if cerr := latest.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Subscribe adds symbol to the watchlist. Repeating it changes nothing.
func (m *MarketData) Subscribe(symbol string) error {
	sym := util.NormalizeSymbol(symbol)
	if sym == "" {
		return ErrInvalidSymbol
	}
	m.mu.Lock()
	if _, ok := m.watch[sym]; ok {
		m.mu.Unlock()
		return nil
	}
	m.watch[sym] = struct{}{}
	p := m.provider
	m.mu.Unlock()

	if p == nil {
		return nil
	}
	if err := p.Subscribe(sym); err != nil {
		return fmt.Errorf("subscribe %s: %w", sym, err)
	}
	m.logger.Info("subscribed", logger.String("symbol", sym))
	return nil
}

// Unsubscribe drops symbol and everything cached for it.
func (m *MarketData) Unsubscribe(symbol string) error {
	sym := util.NormalizeSymbol(symbol)
	if sym == "" {
		return ErrInvalidSymbol
	}
	m.mu.Lock()
	if _, ok := m.watch[sym]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.watch, sym)
	p := m.provider
	m.mu.Unlock()

	m.ingestMu.Lock()
	m.history.Remove(sym)
	m.quotes.Delete(sym)
	m.detector.Reset(sym)
	delete(m.baselines, sym)
	m.ingestMu.Unlock()
	m.sink.Forget(sym)

	if p == nil {
		return nil
	}
	if err := p.Unsubscribe(sym); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sym, err)
	}
	m.logger.Info("unsubscribed", logger.String("symbol", sym))
	return nil
}

func (m *MarketData) GetQuote(symbol string) (models.Quote, bool) {
	return m.quotes.Get(util.NormalizeSymbol(symbol))
}

// GetTechnicals reports false until enough bars have been seen.
func (m *MarketData) GetTechnicals(symbol string) (models.Technicals, bool) {
	return m.quotes.Technicals(util.NormalizeSymbol(symbol))
}

// GetHistoricalBars returns the newest count bars, oldest first. A count of
// zero or less yields no bars.
func (m *MarketData) GetHistoricalBars(symbol string, count int) []models.Bar {
	if count <= 0 {
		return []models.Bar{}
	}
	return m.history.Last(util.NormalizeSymbol(symbol), count)
}

// HistoryCapacity is the most bars kept per symbol.
func (m *MarketData) HistoryCapacity() int {
	return m.history.Capacity()
}

func (m *MarketData) GetStatus() models.Status {
	m.mu.RLock()
	p := m.provider
	st := models.Status{
		Connected:     m.connected,
		Subscriptions: m.watchListLocked(),
	}
	m.mu.RUnlock()

	st.CacheSize = m.quotes.Len()
	if p == nil {
		st.ConnectionState = "disconnected"
		return st
	}
	st.Provider = p.Name()
	if r, ok := p.(drepo.ConnectionReporter); ok {
		st.ConnectionState = r.ConnectionState()
		st.ReconnectAttempts = r.ReconnectAttempts()
	} else if st.Connected {
		st.ConnectionState = "connected"
	} else {
		st.ConnectionState = "disconnected"
	}
	return st
}

// Movers returns up to n quotes ordered by absolute change percent.
func (m *MarketData) Movers(n int) []models.Quote {
	all := m.quotes.All()
	sort.SliceStable(all, func(i, j int) bool {
		return math.Abs(all[i].ChangePercent) > math.Abs(all[j].ChangePercent)
	})
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func (m *MarketData) watchListLocked() []string {
	out := make([]string, 0, len(m.watch))
	for s := range m.watch {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *MarketData) watched(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.watch[symbol]
	return ok
}

func (m *MarketData) isCurrent(provider string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider != nil && m.provider.Name() == provider
}

// OnTick updates the quote snapshot and runs detection for trades.
func (m *MarketData) OnTick(t models.Tick) {
	if !m.watched(t.Symbol) {
		return
	}
	if m.metrics != nil {
		m.metrics.RecordTick(t.Source, string(t.Kind))
	}

	m.ingestMu.Lock()
	prev, hadPrev := m.quotes.Get(t.Symbol)
	q := m.nextQuote(prev, hadPrev, t)
	m.quotes.Put(&q)

	var alerts []models.Alert
	if t.Kind == models.TickTrade || t.Kind == models.TickBar {
		in := SignalInput{Symbol: t.Symbol, Tick: &t, Price: q.Price}
		if tech, ok := m.quotes.Technicals(t.Symbol); ok {
			in.Technicals = &tech
		}
		if hadPrev {
			in.PrevPrice = prev.Price
		}
		alerts = m.detector.Evaluate(in)
	}
	m.ingestMu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordLastPrice(t.Symbol, q.Price)
	}
	m.emit(models.EventTick, t.Symbol, t)
	m.emitAlerts(alerts)
}

// nextQuote builds a fresh snapshot; the previous one is never modified.
func (m *MarketData) nextQuote(prev models.Quote, hadPrev bool, t models.Tick) models.Quote {
	q := models.Quote{Symbol: t.Symbol}
	if hadPrev {
		q = prev
		q.Technicals = nil
	}
	switch t.Kind {
	case models.TickQuote:
		q.Bid, q.Ask = t.Bid, t.Ask
		q.BidSize, q.AskSize = t.BidSize, t.AskSize
		if t.Bid > 0 && t.Ask > 0 {
			q.Spread = models.RoundCents(t.Ask - t.Bid)
			if q.Price == 0 {
				q.Price = (t.Bid + t.Ask) / 2
			}
		}
	default:
		q.Price = t.Price
		q.Volume += t.Size
	}
	if t.PrevClose > 0 {
		q.PrevClose = t.PrevClose
	}

	base := q.PrevClose
	if base <= 0 {
		b, ok := m.baselines[t.Symbol]
		if !ok && q.Price > 0 {
			b = q.Price
			m.baselines[t.Symbol] = b
		}
		base = b
	}
	if base > 0 && q.Price > 0 {
		q.ChangePercent = (q.Price - base) / base * 100
	}
	q.Source = t.Source
	q.LastUpdated = t.Timestamp
	return q
}

// OnBar appends to the buffer, refreshes technicals and runs detection.
func (m *MarketData) OnBar(symbol string, bar models.Bar) {
	if !m.watched(symbol) {
		return
	}

	m.ingestMu.Lock()
	if _, err := m.history.Append(symbol, bar); err != nil {
		m.ingestMu.Unlock()
		if m.metrics != nil {
			m.metrics.RecordError("bar_out_of_order")
		}
		m.logger.Warn("dropping bar", logger.String("symbol", symbol), logger.Error(err))
		return
	}
	if m.metrics != nil {
		m.metrics.RecordBar(symbol)
	}

	// bar-only feeds move the quote; a newer trade wins over an older bar
	q, ok := m.quotes.Get(symbol)
	if !ok || bar.Timestamp.After(q.LastUpdated) {
		q = m.nextQuote(q, ok, m.barTick(symbol, bar))
		m.quotes.Put(&q)
	}
	tech, computed := m.recompute(symbol)
	var alerts []models.Alert
	if computed {
		price := q.Price
		if price <= 0 {
			price = bar.Close
		}
		alerts = m.detector.Evaluate(SignalInput{Symbol: symbol, Price: price, Technicals: &tech})
	}
	m.ingestMu.Unlock()

	m.emit(models.EventBar, symbol, models.BarEvent{Symbol: symbol, Bar: bar})
	if computed {
		m.emit(models.EventTechnicalsUpdated, symbol, models.TechnicalsEvent{Symbol: symbol, Technicals: tech})
	}
	m.emitAlerts(alerts)
}

// OnHistory merges bootstrap bars without running detection.
func (m *MarketData) OnHistory(symbol string, bars []models.Bar) {
	if !m.watched(symbol) {
		return
	}

	m.ingestMu.Lock()
	kept := m.history.Seed(symbol, bars)
	if _, ok := m.quotes.Get(symbol); !ok {
		if last := m.history.Last(symbol, 2); len(last) > 0 {
			t := m.barTick(symbol, last[len(last)-1])
			if len(last) == 2 {
				t.PrevClose = last[0].Close
			}
			q := m.nextQuote(models.Quote{}, false, t)
			m.quotes.Put(&q)
		}
	}
	tech, computed := m.recompute(symbol)
	m.ingestMu.Unlock()

	m.logger.Info("history loaded", logger.String("symbol", symbol), logger.Int("bars", kept))
	if computed {
		m.emit(models.EventTechnicalsUpdated, symbol, models.TechnicalsEvent{Symbol: symbol, Technicals: tech})
	}
}

func (m *MarketData) barTick(symbol string, bar models.Bar) models.Tick {
	m.mu.RLock()
	source := ""
	if m.provider != nil {
		source = m.provider.Name()
	}
	m.mu.RUnlock()
	return models.Tick{
		Symbol:    symbol,
		Kind:      models.TickBar,
		Price:     bar.Close,
		Size:      bar.Volume,
		Timestamp: bar.Timestamp,
		Source:    source,
	}
}

func (m *MarketData) recompute(symbol string) (models.Technicals, bool) {
	start := time.Now()
	tech, ok := indicator.Compute(m.history.Last(symbol, 0), m.cfg.MinWindow, m.now())
	if !ok {
		return models.Technicals{}, false
	}
	m.quotes.SetTechnicals(symbol, tech)
	if m.metrics != nil {
		m.metrics.RecordLatency("technicals", time.Since(start).Seconds())
	}
	return tech, true
}

func (m *MarketData) OnConnected(provider string) {
	if !m.isCurrent(provider) {
		return
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	m.logger.Info("provider connected", logger.String("provider", provider))
	m.emit(models.EventConnected, "", models.ConnectionEvent{Provider: provider})
}

func (m *MarketData) OnDisconnected(provider string, err error) {
	if !m.isCurrent(provider) {
		return
	}
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	ev := models.ConnectionEvent{Provider: provider}
	if err != nil {
		ev.Reason = err.Error()
	}
	m.logger.Warn("provider disconnected", logger.String("provider", provider), logger.Error(err))
	m.emit(models.EventDisconnected, "", ev)
}

// OnFailed swaps to the simulated provider for the rest of the process.
// The swap runs on its own goroutine since the failing provider reports from
// a goroutine its Close waits for.
func (m *MarketData) OnFailed(provider string, err error) {
	m.mu.Lock()
	if m.failedOver || m.provider == nil || m.provider.Name() != provider {
		m.mu.Unlock()
		return
	}
	m.failedOver = true
	old := m.provider
	next := m.factory.Fallback()
	m.provider = next
	m.connected = false
	ctx := m.ctx
	symbols := m.watchListLocked()
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Error("provider failed, switching to simulated data",
		logger.String("provider", provider), logger.String("fallback", next.Name()), logger.Error(err))
	m.emit(models.EventDisconnected, "", models.ConnectionEvent{Provider: provider, Reason: errString(err)})

	go func() {
		defer m.wg.Done()
		if cerr := old.Close(); cerr != nil {
			m.logger.Warn("closing failed provider", logger.Error(cerr))
		}
		if seeder, ok := next.(priceSeeder); ok {
			for _, sym := range symbols {
				if q, ok := m.quotes.Get(sym); ok && q.Price > 0 {
					seeder.SeedPrice(sym, q.Price)
				}
			}
		}
		if ctx == nil || ctx.Err() != nil {
			return
		}
		if serr := next.Start(ctx, m.sink); serr != nil {
			m.logger.Error("fallback provider failed to start", logger.Error(serr))
			return
		}
		// the watchlist may have grown while the old provider closed
		m.mu.RLock()
		symbols = m.watchListLocked()
		m.mu.RUnlock()
		for _, sym := range symbols {
			if serr := next.Subscribe(sym); serr != nil {
				m.logger.Warn("fallback subscribe failed", logger.String("symbol", sym), logger.Error(serr))
			}
		}
	}()
}

func (m *MarketData) emit(category models.EventCategory, symbol string, payload interface{}) {
	if m.bus != nil {
		m.bus.Emit(category, symbol, payload)
	}
}

func (m *MarketData) emitAlerts(alerts []models.Alert) {
	for _, a := range alerts {
		if m.metrics != nil {
			m.metrics.RecordAlert(string(a.Type), string(a.Priority))
		}
		m.logger.Info("alert",
			logger.String("symbol", a.Symbol), logger.String("type", string(a.Type)),
			logger.String("priority", string(a.Priority)))
		m.emit(models.EventAlert, a.Symbol, a)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
