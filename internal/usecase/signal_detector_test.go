package usecase

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
)

func types(alerts []models.Alert) []models.AlertType {
	out := make([]models.AlertType, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func neutralTech() *models.Technicals {
	return &models.Technicals{
		SMA20:       100,
		SMA50:       optional.None[float64](),
		RSI:         50,
		Bollinger:   models.BollingerBands{Upper: 110, Middle: 100, Lower: 90},
		MACD:        optional.None[models.MACD](),
		AvgVolume20: 1000,
	}
}

func TestRSIOverboughtFiresOncePerEdge(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	hot := neutralTech()
	hot.RSI = 75

	first := d.Evaluate(SignalInput{Symbol: "AAPL", Price: 100, Technicals: hot})
	assert.Equal(t, []models.AlertType{models.AlertRSIOverbought}, types(first))
	assert.Equal(t, models.PriorityMedium, first[0].Priority)

	second := d.Evaluate(SignalInput{Symbol: "AAPL", Price: 100, Technicals: hot})
	assert.Empty(t, second, "still overbought is not a new edge")

	d.Evaluate(SignalInput{Symbol: "AAPL", Price: 100, Technicals: neutralTech()})
	again := d.Evaluate(SignalInput{Symbol: "AAPL", Price: 100, Technicals: hot})
	assert.Equal(t, []models.AlertType{models.AlertRSIOverbought}, types(again))
}

func TestEdgeStateIsPerSymbol(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	cold := neutralTech()
	cold.RSI = 20

	assert.Len(t, d.Evaluate(SignalInput{Symbol: "AAPL", Price: 100, Technicals: cold}), 1)
	assert.Len(t, d.Evaluate(SignalInput{Symbol: "MSFT", Price: 100, Technicals: cold}), 1)

	d.Reset("AAPL")
	assert.Len(t, d.Evaluate(SignalInput{Symbol: "AAPL", Price: 100, Technicals: cold}), 1)
	assert.Empty(t, d.Evaluate(SignalInput{Symbol: "MSFT", Price: 100, Technicals: cold}))
}

func TestTradeRules(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	tick := &models.Tick{Symbol: "TSLA", Kind: models.TickTrade, Price: 103, Size: 5000, Timestamp: time.Now()}

	alerts := d.Evaluate(SignalInput{Symbol: "TSLA", Tick: tick, PrevPrice: 100, Price: 103, Technicals: neutralTech()})
	assert.ElementsMatch(t, []models.AlertType{models.AlertVolumeSpike, models.AlertPriceMove}, types(alerts))
	for _, a := range alerts {
		assert.Equal(t, models.PriorityHigh, a.Priority)
		assert.NotEmpty(t, a.ID)
	}

	small := &models.Tick{Symbol: "TSLA", Kind: models.TickTrade, Price: 103.5, Size: 10, Timestamp: time.Now()}
	assert.Empty(t, d.Evaluate(SignalInput{Symbol: "TSLA", Tick: small, PrevPrice: 103, Price: 103.5, Technicals: neutralTech()}))
}

func TestPriceMoveNeedsPreviousPrice(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	tick := &models.Tick{Symbol: "X", Kind: models.TickTrade, Price: 150, Size: 1, Timestamp: time.Now()}
	assert.Empty(t, d.Evaluate(SignalInput{Symbol: "X", Tick: tick, Price: 150}))
}

func TestTechnicalRules(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	tech := neutralTech()
	tech.SMA20 = 105
	tech.SMA50 = optional.Some(100.0)
	tech.MACD = optional.Some(models.MACD{Line: 1.2, Signal: 0.8, Histogram: 0.4})

	alerts := d.Evaluate(SignalInput{Symbol: "NVDA", Price: 112, Technicals: tech})
	assert.ElementsMatch(t,
		[]models.AlertType{models.AlertMABullish, models.AlertMACDBullish, models.AlertBBUpperBreach},
		types(alerts))

	byType := map[models.AlertType]models.Priority{}
	for _, a := range alerts {
		byType[a.Type] = a.Priority
	}
	assert.Equal(t, models.PriorityLow, byType[models.AlertMABullish])
	assert.Equal(t, models.PriorityHigh, byType[models.AlertMACDBullish])

	lower := d.Evaluate(SignalInput{Symbol: "NVDA", Price: 85, Technicals: tech})
	require.Equal(t, []models.AlertType{models.AlertBBLowerBreach}, types(lower))
}

func TestMissingTechnicalsKeepRuleState(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	hot := neutralTech()
	hot.RSI = 80
	require.Len(t, d.Evaluate(SignalInput{Symbol: "AMD", Price: 100, Technicals: hot}), 1)

	// a trade without technicals does not reset the RSI rule
	tick := &models.Tick{Symbol: "AMD", Kind: models.TickTrade, Price: 100, Size: 1, Timestamp: time.Now()}
	d.Evaluate(SignalInput{Symbol: "AMD", Tick: tick, PrevPrice: 100, Price: 100})
	assert.Empty(t, d.Evaluate(SignalInput{Symbol: "AMD", Price: 100, Technicals: hot}))
}

func TestTradeTickLeavesTechnicalRulesAlone(t *testing.T) {
	d := NewSignalDetector(DefaultSignalThresholds())
	hot := neutralTech()
	hot.RSI = 75
	require.Len(t, d.Evaluate(SignalInput{Symbol: "META", Price: 100, Technicals: hot}), 1)

	// a trade against stale neutral technicals must not clear the RSI edge
	tick := &models.Tick{Symbol: "META", Kind: models.TickTrade, Price: 100, Size: 1, Timestamp: time.Now()}
	assert.Empty(t, d.Evaluate(SignalInput{Symbol: "META", Tick: tick, PrevPrice: 100, Price: 100, Technicals: neutralTech()}))
	assert.Empty(t, d.Evaluate(SignalInput{Symbol: "META", Price: 100, Technicals: hot}))

	// nor fire technical rules on its own
	fresh := NewSignalDetector(DefaultSignalThresholds())
	assert.Empty(t, fresh.Evaluate(SignalInput{Symbol: "META", Tick: tick, PrevPrice: 100, Price: 100, Technicals: hot}))
}
