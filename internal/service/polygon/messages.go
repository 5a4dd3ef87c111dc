package polygon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
)

// ErrMalformed marks a frame or event that could not be decoded.
var ErrMalformed = errors.New("malformed polygon message")

const (
	statusConnected   = "connected"
	statusAuthSuccess = "auth_success"
	statusAuthFailed  = "auth_failed"
)

type controlMsg struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

type statusMsg struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type tradeMsg struct {
	Sym  string  `json:"sym"`
	P    float64 `json:"p"`
	S    float64 `json:"s"`
	T    int64   `json:"t"`
	Cond []int   `json:"c,omitempty"`
}

type quoteMsg struct {
	Sym string  `json:"sym"`
	BP  float64 `json:"bp"`
	BS  float64 `json:"bs"`
	AP  float64 `json:"ap"`
	AS  float64 `json:"as"`
	T   int64   `json:"t"`
}

type aggMsg struct {
	Sym   string  `json:"sym"`
	O     float64 `json:"o"`
	H     float64 `json:"h"`
	L     float64 `json:"l"`
	C     float64 `json:"c"`
	V     float64 `json:"v"`
	Start int64   `json:"s"`
	End   int64   `json:"e"`
}

// frame is one decoded websocket message. Polygon batches events in a JSON
// array; invalid entries are collected in Errs and the rest still apply.
type frame struct {
	Statuses []statusMsg
	Ticks    []models.Tick
	Bars     []symbolBar
	Errs     []error
}

type symbolBar struct {
	Symbol string
	Bar    models.Bar
}

func decodeFrame(data []byte) (frame, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// single objects are tolerated
		var one json.RawMessage
		if err2 := json.Unmarshal(data, &one); err2 != nil || len(one) == 0 || one[0] != '{' {
			return frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = []json.RawMessage{one}
	}

	var f frame
	for _, r := range raw {
		var head struct {
			Ev string `json:"ev"`
		}
		if err := json.Unmarshal(r, &head); err != nil {
			f.Errs = append(f.Errs, fmt.Errorf("%w: %v", ErrMalformed, err))
			continue
		}
		if err := f.add(head.Ev, r); err != nil {
			f.Errs = append(f.Errs, err)
		}
	}
	return f, nil
}

func (f *frame) add(ev string, r json.RawMessage) error {
	switch ev {
	case "status":
		var m statusMsg
		if err := json.Unmarshal(r, &m); err != nil {
			return fmt.Errorf("%w: status: %v", ErrMalformed, err)
		}
		f.Statuses = append(f.Statuses, m)
	case "T":
		var m tradeMsg
		if err := json.Unmarshal(r, &m); err != nil {
			return fmt.Errorf("%w: trade: %v", ErrMalformed, err)
		}
		t := models.Tick{
			Symbol:    strings.ToUpper(m.Sym),
			Kind:      models.TickTrade,
			Price:     m.P,
			Size:      m.S,
			Timestamp: time.UnixMilli(m.T),
			Source:    ProviderName,
		}
		if !t.Valid() {
			return fmt.Errorf("%w: trade %q", ErrMalformed, m.Sym)
		}
		f.Ticks = append(f.Ticks, t)
	case "Q":
		var m quoteMsg
		if err := json.Unmarshal(r, &m); err != nil {
			return fmt.Errorf("%w: quote: %v", ErrMalformed, err)
		}
		t := models.Tick{
			Symbol:    strings.ToUpper(m.Sym),
			Kind:      models.TickQuote,
			Bid:       m.BP,
			Ask:       m.AP,
			BidSize:   m.BS,
			AskSize:   m.AS,
			Timestamp: time.UnixMilli(m.T),
			Source:    ProviderName,
		}
		if !t.Valid() {
			return fmt.Errorf("%w: quote %q", ErrMalformed, m.Sym)
		}
		f.Ticks = append(f.Ticks, t)
	case "A", "AM":
		var m aggMsg
		if err := json.Unmarshal(r, &m); err != nil {
			return fmt.Errorf("%w: aggregate: %v", ErrMalformed, err)
		}
		b := models.Bar{Open: m.O, High: m.H, Low: m.L, Close: m.C, Volume: m.V, Timestamp: time.UnixMilli(m.Start)}
		if m.Sym == "" || !b.Valid() {
			return fmt.Errorf("%w: aggregate %q", ErrMalformed, m.Sym)
		}
		f.Bars = append(f.Bars, symbolBar{Symbol: strings.ToUpper(m.Sym), Bar: b})
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformed, ev)
	}
	return nil
}

// channelParams renders "T.X,Q.X,AM.X" for each symbol.
func channelParams(aggChannel string, symbols []string) string {
	parts := make([]string, 0, len(symbols)*3)
	for _, s := range symbols {
		parts = append(parts, "T."+s, "Q."+s, aggChannel+"."+s)
	}
	return strings.Join(parts, ",")
}
