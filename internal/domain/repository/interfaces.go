package repository

import (
	"context"

	"MarketPulse/internal/domain/models"
)

// MarketSink receives normalized data from whichever provider is active.
// Implementations must not block the caller for long; providers call these
// from their read or ticker loops.
type MarketSink interface {
	OnTick(t models.Tick)
	OnBar(symbol string, bar models.Bar)
	OnHistory(symbol string, bars []models.Bar)
	OnConnected(provider string)
	OnDisconnected(provider string, err error)
	// OnFailed is called once when a provider gives up for good.
	OnFailed(provider string, err error)
}

// Provider is one market-data source. Exactly one is active per process.
type Provider interface {
	Name() string
	Start(ctx context.Context, sink MarketSink) error
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	Close() error
}

// ConnectionReporter is implemented by providers that own a connection lifecycle.
type ConnectionReporter interface {
	ConnectionState() string
	ReconnectAttempts() int
}

// HistoryFetcher loads daily bars, oldest first.
type HistoryFetcher interface {
	FetchDaily(ctx context.Context, symbol string, days int) ([]models.Bar, error)
}

type OptionsSource interface {
	Fetch(ctx context.Context, symbol string) (*models.OptionsFlow, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type AlertStore interface {
	Init(ctx context.Context) error
	StoreBatch(ctx context.Context, alerts []models.Alert) error
	Recent(ctx context.Context, symbol string, limit int) ([]models.Alert, error)
	Health(ctx context.Context) error
	Close() error
}

type Metrics interface {
	RecordTick(provider, kind string)
	RecordBar(symbol string)
	RecordAlert(alertType, priority string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordConnectionState(prev, state string)
	RecordReconnect()
	RecordQueueDepth(queue string, n int)
	RecordEventDrop(category string)
}
