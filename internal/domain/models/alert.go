package models

import (
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertVolumeSpike      AlertType = "VOLUME_SPIKE"
	AlertPriceMove        AlertType = "PRICE_MOVE"
	AlertRSIOverbought    AlertType = "RSI_OVERBOUGHT"
	AlertRSIOversold      AlertType = "RSI_OVERSOLD"
	AlertMABullish        AlertType = "MA_BULLISH"
	AlertBBUpperBreach    AlertType = "BB_UPPER_BREACH"
	AlertBBLowerBreach    AlertType = "BB_LOWER_BREACH"
	AlertMACDBullish      AlertType = "MACD_BULLISH"
	AlertHighVolume       AlertType = "HIGH_VOLUME"
	AlertHighPutCall      AlertType = "HIGH_PUT_CALL_RATIO"
	AlertLowPutCall       AlertType = "LOW_PUT_CALL_RATIO"
	AlertHighIV           AlertType = "HIGH_IV"
	AlertGammaSqueezeRisk AlertType = "GAMMA_SQUEEZE_RISK"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Alert is immutable once built; consumers get copies through the event bus.
type Alert struct {
	ID        string                 `json:"id"`
	Type      AlertType              `json:"type"`
	Symbol    string                 `json:"symbol"`
	Message   string                 `json:"message"`
	Priority  Priority               `json:"priority"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewAlert(t AlertType, symbol string, p Priority, msg string, payload map[string]interface{}, at time.Time) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Symbol:    symbol,
		Message:   msg,
		Priority:  p,
		Payload:   payload,
		Timestamp: at,
	}
}
