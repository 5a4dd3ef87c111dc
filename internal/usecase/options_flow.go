package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

type OptionsThresholds struct {
	VolumeHigh    float64
	PutCallHigh   float64
	PutCallLow    float64
	IVHigh        float64
	GammaExposure float64
}

func DefaultOptionsThresholds() OptionsThresholds {
	return OptionsThresholds{VolumeHigh: 50000, PutCallHigh: 2.0, PutCallLow: 0.3, IVHigh: 0.6, GammaExposure: 0.15}
}

type OptionsMonitorConfig struct {
	Symbols     []string
	Interval    time.Duration
	SymbolDelay time.Duration
	Thresholds  OptionsThresholds
}

// forgetter is implemented by sources that hold per-symbol state.
type forgetter interface {
	Forget(symbol string)
}

// OptionsFlowMonitor polls an options source for every monitored symbol on a
// fixed interval, caches the latest snapshot and raises options signals.
type OptionsFlowMonitor struct {
	cfg     OptionsMonitorConfig
	source  drepo.OptionsSource
	bus     *eventbus.Bus
	logger  *logger.Logger
	metrics drepo.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	symbols    map[string]struct{}
	cache      map[string]models.OptionsFlow
	active     map[string]map[models.AlertType]bool
	monitoring bool
}

func NewOptionsFlowMonitor(cfg OptionsMonitorConfig, source drepo.OptionsSource, bus *eventbus.Bus, lgr *logger.Logger, metrics drepo.Metrics) *OptionsFlowMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Thresholds == (OptionsThresholds{}) {
		cfg.Thresholds = DefaultOptionsThresholds()
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	m := &OptionsFlowMonitor{
		cfg:     cfg,
		source:  source,
		bus:     bus,
		logger:  lgr.With(logger.String("component", "options_flow")),
		metrics: metrics,
		now:     time.Now,
		symbols: make(map[string]struct{}),
		cache:   make(map[string]models.OptionsFlow),
		active:  make(map[string]map[models.AlertType]bool),
	}
	for _, s := range cfg.Symbols {
		if sym := util.NormalizeSymbol(s); sym != "" {
			m.symbols[sym] = struct{}{}
		}
	}
	return m
}

// Run checks every monitored symbol once per interval until ctx is done.
func (m *OptionsFlowMonitor) Run(ctx context.Context) error {
	m.setMonitoring(true)
	defer m.setMonitoring(false)

	m.logger.Info("options flow monitoring started",
		logger.Int("symbols", len(m.list())), logger.Duration("interval", m.cfg.Interval))
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("options flow monitoring stopped")
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one cycle over a snapshot of the monitored set.
func (m *OptionsFlowMonitor) Check(ctx context.Context) {
	for i, sym := range m.list() {
		if i > 0 && m.cfg.SymbolDelay > 0 {
			t := time.NewTimer(m.cfg.SymbolDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := m.analyze(ctx, sym); err != nil {
			if m.metrics != nil {
				m.metrics.RecordError("options_fetch")
			}
			m.logger.Warn("options flow check failed", logger.String("symbol", sym), logger.Error(err))
		}
	}
}

func (m *OptionsFlowMonitor) analyze(ctx context.Context, symbol string) error {
	flow, err := m.source.Fetch(ctx, symbol)
	if err != nil {
		return err
	}
	if err := flow.Validate(); err != nil {
		return err
	}
	return m.Ingest(*flow)
}

// Ingest replaces the cached snapshot and emits options signals for rules
// that have just become satisfied. Snapshots for unmonitored symbols are dropped.
func (m *OptionsFlowMonitor) Ingest(flow models.OptionsFlow) error {
	flow.Symbol = util.NormalizeSymbol(flow.Symbol)
	if err := flow.Validate(); err != nil {
		return err
	}
	results := m.rules(flow)

	m.mu.Lock()
	if _, ok := m.symbols[flow.Symbol]; !ok {
		m.mu.Unlock()
		return nil
	}
	m.cache[flow.Symbol] = flow
	st, ok := m.active[flow.Symbol]
	if !ok {
		st = make(map[models.AlertType]bool)
		m.active[flow.Symbol] = st
	}
	var fired []ruleResult
	for _, r := range results {
		if r.satisfied && !st[r.typ] {
			fired = append(fired, r)
		}
		st[r.typ] = r.satisfied
	}
	m.mu.Unlock()

	at := m.now()
	for _, r := range fired {
		a := models.NewAlert(r.typ, flow.Symbol, r.priority, r.message, r.payload, at)
		if m.metrics != nil {
			m.metrics.RecordAlert(string(a.Type), string(a.Priority))
		}
		m.logger.Info("options signal",
			logger.String("symbol", a.Symbol), logger.String("type", string(a.Type)))
		if m.bus != nil {
			m.bus.Emit(models.EventOptionsSignal, a.Symbol, a)
		}
	}
	return nil
}

func (m *OptionsFlowMonitor) rules(f models.OptionsFlow) []ruleResult {
	th := m.cfg.Thresholds
	sym := f.Symbol
	return []ruleResult{
		{
			typ:       models.AlertHighVolume,
			satisfied: f.TotalVolume > th.VolumeHigh,
			priority:  models.PriorityMedium,
			message:   fmt.Sprintf("%s high options volume: %.0f", sym, f.TotalVolume),
			payload:   map[string]interface{}{"volume": f.TotalVolume},
		},
		{
			typ:       models.AlertHighPutCall,
			satisfied: f.PutCallRatio > th.PutCallHigh,
			priority:  models.PriorityHigh,
			message:   fmt.Sprintf("%s high put/call ratio: %.2f", sym, f.PutCallRatio),
			payload:   map[string]interface{}{"ratio": f.PutCallRatio},
		},
		{
			typ:       models.AlertLowPutCall,
			satisfied: f.PutCallRatio < th.PutCallLow,
			priority:  models.PriorityHigh,
			message:   fmt.Sprintf("%s low put/call ratio: %.2f (bullish)", sym, f.PutCallRatio),
			payload:   map[string]interface{}{"ratio": f.PutCallRatio},
		},
		{
			typ:       models.AlertHighIV,
			satisfied: f.AvgIV > th.IVHigh,
			priority:  models.PriorityMedium,
			message:   fmt.Sprintf("%s high implied volatility: %.1f%%", sym, f.AvgIV*100),
			payload:   map[string]interface{}{"iv": f.AvgIV},
		},
		{
			typ:       models.AlertGammaSqueezeRisk,
			satisfied: f.GammaExposureLevel > th.GammaExposure,
			priority:  models.PriorityHigh,
			message:   fmt.Sprintf("%s high gamma exposure: %.1f%% of float", sym, f.GammaExposureLevel*100),
			payload:   map[string]interface{}{"gex": f.GammaExposureLevel},
		},
	}
}

// AddSymbol is picked up by the next cycle.
func (m *OptionsFlowMonitor) AddSymbol(symbol string) error {
	sym := util.NormalizeSymbol(symbol)
	if sym == "" {
		return ErrInvalidSymbol
	}
	m.mu.Lock()
	_, exists := m.symbols[sym]
	m.symbols[sym] = struct{}{}
	m.mu.Unlock()
	if !exists {
		m.logger.Info("added to options monitoring", logger.String("symbol", sym))
	}
	return nil
}

// RemoveSymbol also drops the cached snapshot and rule state.
func (m *OptionsFlowMonitor) RemoveSymbol(symbol string) error {
	sym := util.NormalizeSymbol(symbol)
	if sym == "" {
		return ErrInvalidSymbol
	}
	m.mu.Lock()
	_, existed := m.symbols[sym]
	delete(m.symbols, sym)
	delete(m.cache, sym)
	delete(m.active, sym)
	m.mu.Unlock()
	if f, ok := m.source.(forgetter); ok {
		f.Forget(sym)
	}
	if existed {
		m.logger.Info("removed from options monitoring", logger.String("symbol", sym))
	}
	return nil
}

func (m *OptionsFlowMonitor) GetOptionsData(symbol string) (models.OptionsFlow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.cache[util.NormalizeSymbol(symbol)]
	return f, ok
}

func (m *OptionsFlowMonitor) Status() models.OptionsStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return models.OptionsStatus{
		Monitoring:     m.monitoring,
		Symbols:        m.listLocked(),
		CacheSize:      len(m.cache),
		UpdateInterval: m.cfg.Interval.String(),
	}
}

func (m *OptionsFlowMonitor) setMonitoring(v bool) {
	m.mu.Lock()
	m.monitoring = v
	m.mu.Unlock()
}

func (m *OptionsFlowMonitor) list() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

func (m *OptionsFlowMonitor) listLocked() []string {
	out := make([]string, 0, len(m.symbols))
	for s := range m.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
