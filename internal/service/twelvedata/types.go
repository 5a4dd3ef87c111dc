package twelvedata

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/util"
)

// Quote is the normalized /quote response.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Volume        float64   `json:"volume"`
	PreviousClose float64   `json:"previousClose"`
	ChangePercent float64   `json:"changePercent"`
	Timestamp     time.Time `json:"timestamp"`
}

type IndicatorPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type EarningsEvent struct {
	Symbol      string              `json:"symbol"`
	Name        string              `json:"name"`
	Date        string              `json:"date"`
	Time        string              `json:"time"`
	EPSEstimate decimal.NullDecimal `json:"eps_estimate"`
	EPSActual   decimal.NullDecimal `json:"eps_actual"`
	Surprise    decimal.NullDecimal `json:"surprise_prc"`
}

// envelope is the part every response shares; errors arrive with HTTP 200.
type envelope struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type quoteResponse struct {
	Symbol        string `json:"symbol"`
	Name          string `json:"name"`
	Open          string `json:"open"`
	High          string `json:"high"`
	Low           string `json:"low"`
	Close         string `json:"close"`
	Volume        string `json:"volume"`
	PreviousClose string `json:"previous_close"`
	Timestamp     int64  `json:"timestamp"`
}

type seriesResponse struct {
	Values []map[string]string `json:"values"`
}

type earningsResponse struct {
	Earnings json.RawMessage `json:"earnings"`
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s=%q", ErrMalformed, field, s)
	}
	return d, nil
}

func (r quoteResponse) toQuote(now time.Time) (Quote, error) {
	closeD, err := parseDecimal("close", r.Close)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{Symbol: r.Symbol, Name: r.Name, Price: closeD.InexactFloat64(), Timestamp: now}
	if r.Timestamp > 0 {
		q.Timestamp = time.Unix(r.Timestamp, 0)
	}
	// optional fields stay zero when absent
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", r.Open, &q.Open},
		{"high", r.High, &q.High},
		{"low", r.Low, &q.Low},
		{"volume", r.Volume, &q.Volume},
	} {
		if f.raw == "" {
			continue
		}
		d, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return Quote{}, err
		}
		*f.dst = d.InexactFloat64()
	}
	if r.PreviousClose != "" {
		prev, err := parseDecimal("previous_close", r.PreviousClose)
		if err != nil {
			return Quote{}, err
		}
		q.PreviousClose = prev.InexactFloat64()
		if prev.IsPositive() {
			q.ChangePercent = closeD.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(4).InexactFloat64()
		}
	}
	if q.Price <= 0 {
		return Quote{}, fmt.Errorf("%w: non-positive close for %s", ErrMalformed, r.Symbol)
	}
	return q, nil
}

// parseDatetime reads the "YYYY-MM-DD[ HH:MM:SS]" stamps series values carry, as UTC.
func parseDatetime(s string) (time.Time, error) {
	if t, ok := util.ParseTime(s); ok {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: datetime=%q", ErrMalformed, s)
}

// toBars converts newest-first values into bars oldest first.
func (r seriesResponse) toBars() ([]models.Bar, error) {
	out := make([]models.Bar, 0, len(r.Values))
	for i := len(r.Values) - 1; i >= 0; i-- {
		v := r.Values[i]
		ts, err := parseDatetime(v["datetime"])
		if err != nil {
			return nil, err
		}
		b := models.Bar{Timestamp: ts}
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}, {"volume", &b.Volume}} {
			raw, ok := v[f.name]
			if !ok || raw == "" {
				continue
			}
			d, err := parseDecimal(f.name, raw)
			if err != nil {
				return nil, err
			}
			*f.dst = d.InexactFloat64()
		}
		if !b.Valid() {
			return nil, fmt.Errorf("%w: invalid bar at %s", ErrMalformed, v["datetime"])
		}
		out = append(out, b)
	}
	return out, nil
}

func (r seriesResponse) toIndicator(name string) ([]IndicatorPoint, error) {
	out := make([]IndicatorPoint, 0, len(r.Values))
	for i := len(r.Values) - 1; i >= 0; i-- {
		v := r.Values[i]
		ts, err := parseDatetime(v["datetime"])
		if err != nil {
			return nil, err
		}
		d, err := parseDecimal(name, v[name])
		if err != nil {
			return nil, err
		}
		out = append(out, IndicatorPoint{Timestamp: ts, Value: d.InexactFloat64()})
	}
	return out, nil
}

// events accepts both a flat list and a map keyed by date.
func (r earningsResponse) events() ([]EarningsEvent, error) {
	if len(r.Earnings) == 0 || string(r.Earnings) == "null" {
		return nil, nil
	}
	var list []EarningsEvent
	if err := json.Unmarshal(r.Earnings, &list); err == nil {
		return list, nil
	}
	var byDate map[string][]EarningsEvent
	if err := json.Unmarshal(r.Earnings, &byDate); err != nil {
		return nil, fmt.Errorf("%w: earnings: %v", ErrMalformed, err)
	}
	for date, evs := range byDate {
		for _, e := range evs {
			if e.Date == "" {
				e.Date = date
			}
			list = append(list, e)
		}
	}
	return list, nil
}
