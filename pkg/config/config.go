package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderStreaming = "streaming"
	ProviderPolling   = "polling"
	ProviderSimulated = "simulated"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	HTTP        HTTPConfig       `yaml:"http"`
	Logging     LoggingConfig    `yaml:"logging"`
	Market      MarketConfig     `yaml:"market"`
	Streaming   StreamingConfig  `yaml:"streaming"`
	Polling     PollingConfig    `yaml:"polling"`
	Simulated   SimulatedConfig  `yaml:"simulated"`
	Signals     SignalsConfig    `yaml:"signals"`
	Options     OptionsConfig    `yaml:"options"`
	Events      EventsConfig     `yaml:"events"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`

	// ProviderNote explains why Market.Provider was downgraded at load time.
	ProviderNote string `yaml:"-"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	MetricsPath     string        `yaml:"metrics_path" default:"/metrics"`
	RatePerSecond   float64       `yaml:"rate_per_second" default:"20"`
	RateBurst       int           `yaml:"rate_burst" default:"40"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output     string `yaml:"output" default:"stdout"`
	TimeFormat string `yaml:"time_format"`
	Rotation   struct {
		MaxSizeMB  int  `yaml:"max_size_mb" default:"10"`
		MaxBackups int  `yaml:"max_backups" default:"3"`
		MaxAgeDays int  `yaml:"max_age_days" default:"28"`
		Compress   bool `yaml:"compress"`
	} `yaml:"rotation"`
	Collector struct {
		Enabled        bool          `yaml:"enabled"`
		Topic          string        `yaml:"topic" default:"marketpulse.logs"`
		FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"collector"`
}

type MarketConfig struct {
	Provider        string   `yaml:"provider" default:"simulated" validate:"oneof=streaming polling simulated"`
	Symbols         []string `yaml:"symbols"`
	HistoryCapacity int      `yaml:"history_capacity" default:"200" validate:"gte=1"`
	MinWindow       int      `yaml:"min_window" default:"20" validate:"gte=20"`
	BootstrapDays   int      `yaml:"bootstrap_days" default:"30" validate:"gte=0"`
}

type ReconnectConfig struct {
	Base        time.Duration `yaml:"base" default:"1s" validate:"gt=0"`
	Cap         time.Duration `yaml:"cap" default:"30s" validate:"gt=0"`
	MaxAttempts int           `yaml:"max_attempts" default:"5" validate:"gte=0"`
}

type StreamingConfig struct {
	URL              string          `yaml:"url" default:"wss://socket.polygon.io/stocks" validate:"url"`
	APIKey           string          `yaml:"api_key"`
	AggregateChannel string          `yaml:"aggregate_channel" default:"AM" validate:"oneof=A AM"`
	PingInterval     time.Duration   `yaml:"ping_interval" default:"30s"`
	AuthTimeout      time.Duration   `yaml:"auth_timeout" default:"10s"`
	RESTTimeout      time.Duration   `yaml:"rest_timeout" default:"15s"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type PollingConfig struct {
	BaseURL            string        `yaml:"base_url" default:"https://api.twelvedata.com" validate:"url"`
	APIKey             string        `yaml:"api_key"`
	Interval           time.Duration `yaml:"interval" default:"30s" validate:"gt=0"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" default:"8" validate:"gte=1"`
	Timeout            time.Duration `yaml:"timeout" default:"15s"`
	CacheTTL           struct {
		Quote      time.Duration `yaml:"quote" default:"15s"`
		Historical time.Duration `yaml:"historical" default:"5m"`
		Indicator  time.Duration `yaml:"indicator" default:"5m"`
		Earnings   time.Duration `yaml:"earnings" default:"1h"`
	} `yaml:"cache_ttl"`
}

type SimulatedConfig struct {
	Interval   time.Duration `yaml:"interval" default:"5s" validate:"gt=0"`
	Seed       int64         `yaml:"seed"`
	Volatility float64       `yaml:"volatility" default:"0.02" validate:"gt=0,lt=1"`
}

type SignalsConfig struct {
	VolumeMultiplier float64 `yaml:"volume_multiplier" default:"3" validate:"gt=0"`
	PriceMovePercent float64 `yaml:"price_move_percent" default:"2" validate:"gt=0"`
	RSIOverbought    float64 `yaml:"rsi_overbought" default:"70" validate:"gt=0,lte=100"`
	RSIOversold      float64 `yaml:"rsi_oversold" default:"30" validate:"gte=0,lt=100"`
}

type OptionsConfig struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	Symbols        []string      `yaml:"symbols"`
	Interval       time.Duration `yaml:"interval" default:"30s" validate:"gt=0"`
	SymbolDelay    time.Duration `yaml:"symbol_delay" default:"100ms"`
	Seed           int64         `yaml:"seed"`
	VolumeHigh     float64       `yaml:"volume_threshold" default:"50000"`
	PutCallHigh    float64       `yaml:"put_call_high" default:"2.0"`
	PutCallLow     float64       `yaml:"put_call_low" default:"0.3"`
	IVHigh         float64       `yaml:"iv_high" default:"0.6"`
	GammaExposure  float64       `yaml:"gamma_exposure" default:"0.15"`
	FeedTopic      string        `yaml:"feed_topic"`
	FeedStaleAfter time.Duration `yaml:"feed_stale_after" default:"2m"`
}

type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" default:"256" validate:"gte=1"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"marketpulse"`
}

type KafkaConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Brokers     []string `yaml:"brokers"`
	AlertTopic  string   `yaml:"alert_topic" default:"marketpulse.alerts"`
	Compression string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer    struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID  string `yaml:"group_id" default:"marketpulse"`
		Workers  int    `yaml:"workers" default:"1"`
		RetryMax int    `yaml:"retry_max" default:"3"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host" default:"localhost"`
	Port        int           `yaml:"port" default:"9000"`
	Database    string        `yaml:"database" default:"marketpulse"`
	User        string        `yaml:"user" default:"default"`
	Password    string        `yaml:"password"`
	Table       string        `yaml:"table" default:"alerts"`
	DialTimeout time.Duration `yaml:"dial_timeout" default:"5s"`
}

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads a YAML file on top of the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (if present), the YAML file, applies environment
// overrides and validates the result.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.ProviderNote = c.resolveProvider()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MP_PROVIDER"); v != "" {
		c.Market.Provider = v
	}
	if v := os.Getenv("MP_SYMBOLS"); v != "" {
		c.Market.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		c.Streaming.APIKey = v
	}
	if v := os.Getenv("TWELVE_DATA_API_KEY"); v != "" {
		c.Polling.APIKey = v
	}
	if v := os.Getenv("MP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MP_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MP_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("MP_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}

	var err error
	if v := os.Getenv("MP_HTTP_PORT"); v != "" {
		if c.HTTP.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("MP_HTTP_PORT: %w", err)
		}
	}
	if v := os.Getenv("VOLUME_ALERT_THRESHOLD"); v != "" {
		if c.Signals.VolumeMultiplier, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("VOLUME_ALERT_THRESHOLD: %w", err)
		}
	}
	if v := os.Getenv("PRICE_ALERT_THRESHOLD"); v != "" {
		if c.Signals.PriceMovePercent, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("PRICE_ALERT_THRESHOLD: %w", err)
		}
	}
	if v := os.Getenv("UPDATE_INTERVAL"); v != "" {
		// milliseconds, as the old deployments set it
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UPDATE_INTERVAL: %w", err)
		}
		c.Simulated.Interval = time.Duration(ms) * time.Millisecond
	}
	return nil
}

// resolveProvider downgrades to the simulated provider when the selected one
// has no credentials. It returns the reason, or "" when nothing changed.
func (c *Config) resolveProvider() string {
	switch c.Market.Provider {
	case ProviderStreaming:
		if c.Streaming.APIKey == "" {
			c.Market.Provider = ProviderSimulated
			return "streaming provider has no api key"
		}
	case ProviderPolling:
		if c.Polling.APIKey == "" {
			c.Market.Provider = ProviderSimulated
			return "polling provider has no api key"
		}
	}
	return ""
}

var validate = validator.New()

// Validate checks struct constraints and the cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Market.MinWindow > c.Market.HistoryCapacity {
		return fmt.Errorf("market.min_window (%d) exceeds market.history_capacity (%d)", c.Market.MinWindow, c.Market.HistoryCapacity)
	}
	if c.Streaming.Reconnect.Cap < c.Streaming.Reconnect.Base {
		return errors.New("streaming.reconnect.cap must be >= base")
	}
	if c.Signals.RSIOversold >= c.Signals.RSIOverbought {
		return errors.New("signals.rsi_oversold must be below signals.rsi_overbought")
	}
	if c.Options.PutCallLow >= c.Options.PutCallHigh {
		return errors.New("options.put_call_low must be below options.put_call_high")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitSymbols(v string) []string {
	out := splitList(v)
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}
