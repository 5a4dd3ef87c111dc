package usecase

import (
	"fmt"
	"math"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
)

type SignalThresholds struct {
	VolumeMultiplier float64
	PriceMovePercent float64
	RSIOverbought    float64
	RSIOversold      float64
}

func DefaultSignalThresholds() SignalThresholds {
	return SignalThresholds{VolumeMultiplier: 3, PriceMovePercent: 2, RSIOverbought: 70, RSIOversold: 30}
}

// SignalInput is everything one evaluation looks at. With a trade Tick only
// the trade rules run, reading Technicals for the volume average. Without one
// the evaluation follows a technicals recomputation and only the technicals
// rules run, so each rule has a single source of state transitions.
type SignalInput struct {
	Symbol     string
	Tick       *models.Tick
	PrevPrice  float64
	Price      float64
	Technicals *models.Technicals
}

// SignalDetector evaluates threshold rules and fires each rule only on the
// transition from not satisfied to satisfied. Rules that cannot be evaluated
// (missing technicals, no previous price) keep their previous state.
type SignalDetector struct {
	th  SignalThresholds
	now func() time.Time

	mu    sync.Mutex
	state map[string]map[models.AlertType]bool
}

func NewSignalDetector(th SignalThresholds) *SignalDetector {
	return &SignalDetector{th: th, now: time.Now, state: make(map[string]map[models.AlertType]bool)}
}

type ruleResult struct {
	typ       models.AlertType
	satisfied bool
	priority  models.Priority
	message   string
	payload   map[string]interface{}
}

func (d *SignalDetector) Evaluate(in SignalInput) []models.Alert {
	results := d.rules(in)
	if len(results) == 0 {
		return nil
	}

	d.mu.Lock()
	st, ok := d.state[in.Symbol]
	if !ok {
		st = make(map[models.AlertType]bool)
		d.state[in.Symbol] = st
	}
	var fired []ruleResult
	for _, r := range results {
		if r.satisfied && !st[r.typ] {
			fired = append(fired, r)
		}
		st[r.typ] = r.satisfied
	}
	d.mu.Unlock()

	if len(fired) == 0 {
		return nil
	}
	at := d.now()
	out := make([]models.Alert, 0, len(fired))
	for _, r := range fired {
		out = append(out, models.NewAlert(r.typ, in.Symbol, r.priority, r.message, r.payload, at))
	}
	return out
}

// Reset forgets rule state for symbol, e.g. after unsubscribe.
func (d *SignalDetector) Reset(symbol string) {
	d.mu.Lock()
	delete(d.state, symbol)
	d.mu.Unlock()
}

func (d *SignalDetector) rules(in SignalInput) []ruleResult {
	var out []ruleResult
	sym := in.Symbol

	if t := in.Tick; t != nil && t.Kind == models.TickTrade {
		if tech := in.Technicals; tech != nil && tech.AvgVolume20 > 0 {
			limit := tech.AvgVolume20 * d.th.VolumeMultiplier
			out = append(out, ruleResult{
				typ:       models.AlertVolumeSpike,
				satisfied: t.Size > limit,
				priority:  models.PriorityHigh,
				message:   fmt.Sprintf("%s unusual volume: %.0f vs avg %.0f", sym, t.Size, tech.AvgVolume20),
				payload:   map[string]interface{}{"volume": t.Size, "avgVolume20": tech.AvgVolume20, "price": t.Price},
			})
		}
		if in.PrevPrice > 0 {
			change := (t.Price - in.PrevPrice) / in.PrevPrice * 100
			out = append(out, ruleResult{
				typ:       models.AlertPriceMove,
				satisfied: math.Abs(change) > d.th.PriceMovePercent,
				priority:  models.PriorityHigh,
				message:   fmt.Sprintf("%s significant price move: %.2f%%", sym, change),
				payload:   map[string]interface{}{"from": in.PrevPrice, "to": t.Price, "changePercent": change},
			})
		}
	}

	tech := in.Technicals
	if in.Tick != nil || tech == nil || in.Price <= 0 {
		return out
	}
	price := in.Price

	out = append(out,
		ruleResult{
			typ:       models.AlertRSIOverbought,
			satisfied: tech.RSI > d.th.RSIOverbought,
			priority:  models.PriorityMedium,
			message:   fmt.Sprintf("%s RSI overbought at %.1f", sym, tech.RSI),
			payload:   map[string]interface{}{"rsi": tech.RSI},
		},
		ruleResult{
			typ:       models.AlertRSIOversold,
			satisfied: tech.RSI < d.th.RSIOversold,
			priority:  models.PriorityMedium,
			message:   fmt.Sprintf("%s RSI oversold at %.1f", sym, tech.RSI),
			payload:   map[string]interface{}{"rsi": tech.RSI},
		},
		ruleResult{
			typ:       models.AlertBBUpperBreach,
			satisfied: price > tech.Bollinger.Upper,
			priority:  models.PriorityMedium,
			message:   fmt.Sprintf("%s price above upper Bollinger Band", sym),
			payload:   map[string]interface{}{"price": price, "upper": tech.Bollinger.Upper},
		},
		ruleResult{
			typ:       models.AlertBBLowerBreach,
			satisfied: price < tech.Bollinger.Lower,
			priority:  models.PriorityMedium,
			message:   fmt.Sprintf("%s price below lower Bollinger Band", sym),
			payload:   map[string]interface{}{"price": price, "lower": tech.Bollinger.Lower},
		},
	)

	if sma50, err := tech.SMA50.Take(); err == nil {
		out = append(out, ruleResult{
			typ:       models.AlertMABullish,
			satisfied: price > tech.SMA20 && tech.SMA20 > sma50,
			priority:  models.PriorityLow,
			message:   fmt.Sprintf("%s bullish MA alignment - price above SMA20 above SMA50", sym),
			payload:   map[string]interface{}{"price": price, "sma20": tech.SMA20, "sma50": sma50},
		})
	}
	if macd, err := tech.MACD.Take(); err == nil {
		out = append(out, ruleResult{
			typ:       models.AlertMACDBullish,
			satisfied: macd.Line > macd.Signal,
			priority:  models.PriorityHigh,
			message:   fmt.Sprintf("%s MACD bullish crossover", sym),
			payload:   map[string]interface{}{"macd": macd.Line, "signal": macd.Signal},
		})
	}
	return out
}
