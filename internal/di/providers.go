package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	"MarketPulse/internal/handler/api"
	internalrepo "MarketPulse/internal/repository"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/internal/service/options"
	"MarketPulse/internal/service/polygon"
	"MarketPulse/internal/service/provider"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/service/twelvedata"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/cache"
	pkgch "MarketPulse/pkg/clickhouse"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	pkgkafka "MarketPulse/pkg/kafka"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/queue"
	"MarketPulse/pkg/server"
)

// ProvideLogger builds the process logger from the logging section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		TimeFormat: cfg.Logging.TimeFormat,
		Rotation: applogger.RotationConfig{
			MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
			Compress:   cfg.Logging.Rotation.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry served at the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

func ProvideEventBus(cfg *config.Config, m repository.Metrics) *eventbus.Bus {
	bus := eventbus.New(cfg.Events.BufferSize)
	bus.OnDrop = func(c models.EventCategory) { m.RecordEventDrop(string(c)) }
	return bus
}

// ProvideCache layers an in-process LRU over Redis when Redis is enabled.
func ProvideCache(cfg *config.Config, lgr *applogger.Logger) (cache.Service, func(), error) {
	var remote cache.Service
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(
			cache.WithRedisAddr(cfg.Redis.Addr),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
			cache.WithRedisPrefix(cfg.Redis.Prefix),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		lgr.Info("redis cache connected", applogger.String("addr", cfg.Redis.Addr))
		remote = rc
	}
	c := cache.NewLayeredCache(remote, cache.WithLayeredMemorySize(2000))
	return c, func() { _ = c.Close() }, nil
}

// ProvideScheduler paces every TwelveData request.
func ProvideScheduler(cfg *config.Config, lgr *applogger.Logger, m repository.Metrics) *queue.Scheduler {
	return queue.New(queue.Config{
		RatePerMinute: cfg.Polling.RateLimitPerMinute,
		Name:          twelvedata.ProviderName,
	}, lgr, m)
}

// ProvideTwelveData returns nil when no api key is configured.
func ProvideTwelveData(cfg *config.Config, sched *queue.Scheduler, c cache.Service, lgr *applogger.Logger, m repository.Metrics) *twelvedata.Client {
	if cfg.Polling.APIKey == "" {
		return nil
	}
	return twelvedata.NewClient(twelvedata.Config{
		BaseURL: cfg.Polling.BaseURL,
		APIKey:  cfg.Polling.APIKey,
		TTL: twelvedata.TTLs{
			Quote:      cfg.Polling.CacheTTL.Quote,
			Historical: cfg.Polling.CacheTTL.Historical,
			Indicator:  cfg.Polling.CacheTTL.Indicator,
			Earnings:   cfg.Polling.CacheTTL.Earnings,
		},
	}, xhttp.NewClient(xhttp.WithTimeout(cfg.Polling.Timeout)), sched, c, lgr, m)
}

// ProvidePolygonHistory returns nil when no api key is configured.
func ProvidePolygonHistory(cfg *config.Config, lgr *applogger.Logger) *polygon.HistoryFetcher {
	if cfg.Streaming.APIKey == "" {
		return nil
	}
	rest := xhttp.NewClient(xhttp.WithTimeout(cfg.Streaming.RESTTimeout))
	return polygon.NewHistoryFetcher(cfg.Streaming.APIKey, rest.HTTPClient(), lgr)
}

func ProvideProviderFactory(cfg *config.Config, td *twelvedata.Client, hist *polygon.HistoryFetcher, lgr *applogger.Logger, m repository.Metrics) usecase.ProviderFactory {
	return provider.NewFactory(cfg, td, hist, lgr, m)
}

func ProvideMarketData(cfg *config.Config, factory usecase.ProviderFactory, bus *eventbus.Bus, lgr *applogger.Logger, m repository.Metrics) *usecase.MarketData {
	return usecase.NewMarketData(usecase.MarketDataConfig{
		Symbols:         cfg.Market.Symbols,
		HistoryCapacity: cfg.Market.HistoryCapacity,
		MinWindow:       cfg.Market.MinWindow,
		Signals: usecase.SignalThresholds{
			VolumeMultiplier: cfg.Signals.VolumeMultiplier,
			PriceMovePercent: cfg.Signals.PriceMovePercent,
			RSIOverbought:    cfg.Signals.RSIOverbought,
			RSIOversold:      cfg.Signals.RSIOversold,
		},
	}, factory, bus, lgr, m)
}

// ProvideOptionsFeed serves Kafka-fed snapshots and synthesizes the rest.
func ProvideOptionsFeed(cfg *config.Config) *options.FeedStore {
	return options.NewFeedStore(options.NewSynthetic(cfg.Options.Seed), cfg.Options.FeedStaleAfter)
}

func ProvideOptionsMonitor(cfg *config.Config, feed *options.FeedStore, bus *eventbus.Bus, lgr *applogger.Logger, m repository.Metrics) *usecase.OptionsFlowMonitor {
	symbols := cfg.Options.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Market.Symbols
	}
	return usecase.NewOptionsFlowMonitor(usecase.OptionsMonitorConfig{
		Symbols:     symbols,
		Interval:    cfg.Options.Interval,
		SymbolDelay: cfg.Options.SymbolDelay,
		Thresholds: usecase.OptionsThresholds{
			VolumeHigh:    cfg.Options.VolumeHigh,
			PutCallHigh:   cfg.Options.PutCallHigh,
			PutCallLow:    cfg.Options.PutCallLow,
			IVHigh:        cfg.Options.IVHigh,
			GammaExposure: cfg.Options.GammaExposure,
		},
	}, feed, bus, lgr, m)
}

// ProvideKafkaProducer returns nil when Kafka is disabled. When the log
// collector is enabled it ships aggregated warn/error lines through the producer.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, lgr *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(-1),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithProducerMetrics(reg),
		pkgkafka.WithProducerLogger(lgr),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	if cfg.Logging.Collector.Enabled {
		lgr.AddCollector(&applogger.CollectionConfig{
			FlushInterval:  cfg.Logging.Collector.FlushInterval,
			CountThreshold: cfg.Logging.Collector.CountThreshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
		})
	}
	cleanup := func() {
		lgr.RemoveCollector()
		_ = producer.Close()
	}
	return producer, cleanup, nil
}

// ProvideAlertPublisher keeps the interface nil when there is no producer.
func ProvideAlertPublisher(producer *pkgkafka.Producer) repository.Publisher {
	if producer == nil {
		return nil
	}
	return producer
}

// ProvideClickHouseClient returns nil when the alert journal is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, 10*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideAlertStore creates the journal table on first use.
func ProvideAlertStore(client *pkgch.Client, cfg *config.Config) (repository.AlertStore, error) {
	if client == nil {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database),
	}); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	store := internalrepo.NewClickHouseAlertStore(client.DB(), cfg.ClickHouse.Database+"."+cfg.ClickHouse.Table)
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func ProvideAlertForwarder(pub repository.Publisher, store repository.AlertStore, cfg *config.Config, m repository.Metrics, lgr *applogger.Logger) *usecase.AlertForwarder {
	if pub == nil && store == nil {
		return nil
	}
	return usecase.NewAlertForwarder(pub, store, cfg.Kafka.AlertTopic, m, lgr, 100, 2*time.Second)
}

// ProvideKafkaConsumer returns nil unless Kafka is enabled and an options feed topic is set.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, lgr *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Options.FeedTopic == "" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, 100*time.Millisecond, 5*time.Second),
		pkgkafka.WithConsumerMetrics(reg),
		pkgkafka.WithConsumerLogger(lgr),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideOptionsFeedHandler registers handler for the options feed topic.
func ProvideOptionsFeedHandler(cfg *config.Config, feed *options.FeedStore, m repository.Metrics) *usecase.OptionsFeedHandler {
	return usecase.NewOptionsFeedHandler(cfg.Options.FeedTopic, feed, m)
}

// ProvideHTTPServer registers the API, the event stream and the research routes.
func ProvideHTTPServer(
	cfg *config.Config,
	lgr *applogger.Logger,
	reg *prometheus.Registry,
	market *usecase.MarketData,
	monitor *usecase.OptionsFlowMonitor,
	td *twelvedata.Client,
	store repository.AlertStore,
	bus *eventbus.Bus,
) *xhttp.Server {
	limit := api.RateLimit(ratelimit.New(cfg.HTTP.RatePerSecond, cfg.HTTP.RateBurst), lgr)

	opts := []api.MarketOption{api.WithRateLimit(limit)}
	if store != nil {
		opts = append(opts, api.WithAlertStore(store))
	}
	var optionsSvc api.OptionsService
	if cfg.Options.Enabled {
		optionsSvc = monitor
	}
	routes := api.Routes{
		api.NewMarketHandler(lgr, market, optionsSvc, opts...),
		api.NewStreamHandler(lgr, bus, cfg.Events.BufferSize),
	}
	if td != nil {
		routes = append(routes, api.NewResearchHandler(lgr, td, limit))
	}

	return xhttp.NewServer(routes, lgr,
		xhttp.WithHost(cfg.HTTP.Host),
		xhttp.WithPort(cfg.HTTP.Port),
		xhttp.WithTimeouts(cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, cfg.HTTP.ShutdownTimeout),
		xhttp.WithMetrics(reg, cfg.HTTP.MetricsPath),
		xhttp.WithCORSOrigins(cfg.HTTP.CORSOrigins),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	market *usecase.MarketData,
	monitor *usecase.OptionsFlowMonitor,
	forwarder *usecase.AlertForwarder,
	sched *queue.Scheduler,
	bus *eventbus.Bus,
	consumer *pkgkafka.Consumer,
	feed *usecase.OptionsFeedHandler,
	httpServer *xhttp.Server,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.HookFuncs{
			Err: func(_ context.Context, topic string, km kafka.Message, err error) {
				lgr.Warn("options feed message failed",
					applogger.String("topic", topic),
					applogger.Int64("offset", km.Offset),
					applogger.Error(err))
			},
		})
	}
	c := server.Components{
		Market:    market,
		Options:   monitor,
		Forwarder: forwarder,
		Bus:       bus,
		Consumer:  consumer,
		HTTP:      httpServer,
	}
	// the scheduler only has work when TwelveData is configured
	if cfg.Polling.APIKey != "" {
		c.Scheduler = sched
	}
	if consumer != nil {
		c.Feed = feed
	}
	return server.New(cfg, lgr, c)
}
