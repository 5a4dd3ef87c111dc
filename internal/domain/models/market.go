package models

import (
	"math"
	"time"
)

type TickKind string

const (
	TickTrade TickKind = "trade"
	TickQuote TickKind = "quote"
	TickBar   TickKind = "bar"
)

// Tick is a single normalized provider update. It lives for one update cycle.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Kind      TickKind  `json:"kind"`
	Price     float64   `json:"price,omitempty"`
	Size      float64   `json:"size,omitempty"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	BidSize   float64   `json:"bidSize,omitempty"`
	AskSize   float64   `json:"askSize,omitempty"`
	PrevClose float64   `json:"prevClose,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Valid reports whether the tick carries enough to update a quote.
func (t Tick) Valid() bool {
	if t.Symbol == "" || t.Timestamp.IsZero() {
		return false
	}
	switch t.Kind {
	case TickTrade, TickBar:
		return finite(t.Price) && t.Price > 0 && finite(t.Size) && t.Size >= 0
	case TickQuote:
		return finite(t.Bid) && finite(t.Ask) && t.Bid >= 0 && t.Ask >= 0 && (t.Bid > 0 || t.Ask > 0)
	}
	return false
}

type Bar struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

func (b Bar) Valid() bool {
	if b.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if !finite(v) || v < 0 {
			return false
		}
	}
	return b.Close > 0 && b.High >= b.Low
}

// Quote is the latest snapshot for one symbol. Snapshots are replaced whole,
// never edited after publication.
type Quote struct {
	Symbol        string      `json:"symbol"`
	Price         float64     `json:"price"`
	Bid           float64     `json:"bid,omitempty"`
	Ask           float64     `json:"ask,omitempty"`
	BidSize       float64     `json:"bidSize,omitempty"`
	AskSize       float64     `json:"askSize,omitempty"`
	Spread        float64     `json:"spread,omitempty"`
	Volume        float64     `json:"volume"`
	PrevClose     float64     `json:"prevClose,omitempty"`
	ChangePercent float64     `json:"changePercent"`
	Technicals    *Technicals `json:"technicals,omitempty"`
	Source        string      `json:"source"`
	LastUpdated   time.Time   `json:"lastUpdated"`
}

// RoundCents rounds a price to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
