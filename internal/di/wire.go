//go:build wireinject
// +build wireinject

package di

import (
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,
		ProvideEventBus,

		// Infrastructure clients
		ProvideCache,
		ProvideScheduler,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// Market data sources
		ProvideTwelveData,
		ProvidePolygonHistory,
		ProvideProviderFactory,
		ProvideOptionsFeed,

		// Repositories
		ProvideAlertPublisher,
		ProvideAlertStore,

		// Use cases
		ProvideMarketData,
		ProvideOptionsMonitor,
		ProvideAlertForwarder,
		ProvideKafkaConsumer,
		ProvideOptionsFeedHandler,

		// Application server
		ProvideHTTPServer,
		ProvideApp,
	)
	return nil, nil, nil
}
