package provider

import (
	"fmt"

	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/connection"
	"MarketPulse/internal/service/polygon"
	"MarketPulse/internal/service/simulated"
	"MarketPulse/internal/service/twelvedata"
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/logger"
)

// Factory builds the configured provider and the simulated fallback.
type Factory struct {
	cfg            *config.Config
	quotes         *twelvedata.Client
	polygonHistory *polygon.HistoryFetcher
	logger         *logger.Logger
	metrics        drepo.Metrics
}

func NewFactory(cfg *config.Config, quotes *twelvedata.Client, polygonHistory *polygon.HistoryFetcher, lgr *logger.Logger, metrics drepo.Metrics) *Factory {
	return &Factory{cfg: cfg, quotes: quotes, polygonHistory: polygonHistory, logger: lgr, metrics: metrics}
}

// synth generates fallback history; it shares the simulated seed so runs
// with a fixed seed stay reproducible.
func (f *Factory) synth() *simulated.Generator {
	return simulated.NewGenerator(f.cfg.Simulated.Seed, f.cfg.Simulated.Volatility)
}

func (f *Factory) Primary() (drepo.Provider, error) {
	switch f.cfg.Market.Provider {
	case config.ProviderStreaming:
		if f.polygonHistory == nil {
			return nil, fmt.Errorf("streaming provider: no history fetcher")
		}
		return NewStreaming(StreamingConfig{
			Stream: polygon.StreamConfig{
				URL:              f.cfg.Streaming.URL,
				APIKey:           f.cfg.Streaming.APIKey,
				AggregateChannel: f.cfg.Streaming.AggregateChannel,
				PingInterval:     f.cfg.Streaming.PingInterval,
				AuthTimeout:      f.cfg.Streaming.AuthTimeout,
			},
			Reconnect: connection.Config{
				Base:        f.cfg.Streaming.Reconnect.Base,
				Cap:         f.cfg.Streaming.Reconnect.Cap,
				MaxAttempts: f.cfg.Streaming.Reconnect.MaxAttempts,
			},
			BootstrapDays:  f.cfg.Market.BootstrapDays,
			BootstrapLimit: f.cfg.Streaming.RESTTimeout,
		}, f.polygonHistory, f.synth(), f.logger, f.metrics), nil
	case config.ProviderPolling:
		if f.quotes == nil {
			return nil, fmt.Errorf("polling provider: no twelvedata client")
		}
		return NewPolling(PollingConfig{
			Interval:      f.cfg.Polling.Interval,
			BootstrapDays: f.cfg.Market.BootstrapDays,
		}, f.quotes, f.quotes, f.synth(), f.logger, f.metrics), nil
	case config.ProviderSimulated, "":
		return f.Fallback(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", f.cfg.Market.Provider)
}

func (f *Factory) Fallback() drepo.Provider {
	return NewSimulated(SimulatedConfig{
		Interval:      f.cfg.Simulated.Interval,
		Seed:          f.cfg.Simulated.Seed,
		Volatility:    f.cfg.Simulated.Volatility,
		BootstrapDays: f.cfg.Market.BootstrapDays,
	}, f.logger, f.metrics)
}
