package mocks

//go:generate mockgen -destination=./mock_history_fetcher.go -package=mocks MarketPulse/internal/domain/repository HistoryFetcher
//go:generate mockgen -destination=./mock_publisher.go -package=mocks MarketPulse/internal/domain/repository Publisher
//go:generate mockgen -destination=./mock_options_source.go -package=mocks MarketPulse/internal/domain/repository OptionsSource
//go:generate mockgen -destination=./mock_alert_store.go -package=mocks MarketPulse/internal/domain/repository AlertStore
