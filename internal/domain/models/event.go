package models

import "time"

type EventCategory string

const (
	EventConnected         EventCategory = "connected"
	EventDisconnected      EventCategory = "disconnected"
	EventTick              EventCategory = "tick"
	EventBar               EventCategory = "bar"
	EventTechnicalsUpdated EventCategory = "technicals-updated"
	EventAlert             EventCategory = "alert"
	EventOptionsSignal     EventCategory = "options-signal"
)

// AllEventCategories lists every category in a stable order.
var AllEventCategories = []EventCategory{
	EventConnected, EventDisconnected, EventTick, EventBar,
	EventTechnicalsUpdated, EventAlert, EventOptionsSignal,
}

// Event is what subscribers receive. Payload is one of Tick, BarEvent,
// TechnicalsEvent, Alert or ConnectionEvent.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Symbol    string        `json:"symbol,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Payload   interface{}   `json:"payload"`
}

type BarEvent struct {
	Symbol string `json:"symbol"`
	Bar    Bar    `json:"bar"`
}

type TechnicalsEvent struct {
	Symbol     string     `json:"symbol"`
	Technicals Technicals `json:"technicals"`
}

type ConnectionEvent struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason,omitempty"`
}
