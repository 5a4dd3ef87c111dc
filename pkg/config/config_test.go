package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()

	assert.Equal(t, ProviderSimulated, c.Market.Provider)
	assert.Equal(t, 200, c.Market.HistoryCapacity)
	assert.Equal(t, 20, c.Market.MinWindow)
	assert.Equal(t, time.Second, c.Streaming.Reconnect.Base)
	assert.Equal(t, 30*time.Second, c.Streaming.Reconnect.Cap)
	assert.Equal(t, 5, c.Streaming.Reconnect.MaxAttempts)
	assert.Equal(t, 8, c.Polling.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, c.Polling.Interval)
	assert.Equal(t, 3.0, c.Signals.VolumeMultiplier)
	assert.Equal(t, 2.0, c.Options.PutCallHigh)
	assert.Equal(t, 0.15, c.Options.GammaExposure)
	require.NoError(t, c.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
market:
  provider: polling
  symbols: [AAPL, MSFT]
  min_window: 25
polling:
  api_key: secret
  rate_limit_per_minute: 60
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderPolling, c.Market.Provider)
	assert.Equal(t, []string{"AAPL", "MSFT"}, c.Market.Symbols)
	assert.Equal(t, 25, c.Market.MinWindow)
	assert.Equal(t, 60, c.Polling.RateLimitPerMinute)
	// untouched keys keep their defaults
	assert.Equal(t, 200, c.Market.HistoryCapacity)
}

func TestLoadWithEnvFallsBackWithoutCredentials(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "")
	path := writeConfig(t, "market:\n  provider: streaming\n")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderSimulated, c.Market.Provider)
	assert.NotEmpty(t, c.ProviderNote)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("MP_PROVIDER", "streaming")
	t.Setenv("POLYGON_API_KEY", "pk")
	t.Setenv("MP_SYMBOLS", "aapl, nvda")
	t.Setenv("MP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PRICE_ALERT_THRESHOLD", "1.5")
	t.Setenv("UPDATE_INTERVAL", "2500")

	c, err := LoadWithEnv(writeConfig(t, "environment: test\n"))
	require.NoError(t, err)
	assert.Equal(t, ProviderStreaming, c.Market.Provider)
	assert.Equal(t, "pk", c.Streaming.APIKey)
	assert.Equal(t, []string{"AAPL", "NVDA"}, c.Market.Symbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, 1.5, c.Signals.PriceMovePercent)
	assert.Equal(t, 2500*time.Millisecond, c.Simulated.Interval)
	assert.Empty(t, c.ProviderNote)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Market.Provider = "carrier-pigeon" }},
		{"window above capacity", func(c *Config) { c.Market.MinWindow = 300 }},
		{"cap below base", func(c *Config) { c.Streaming.Reconnect.Cap = 500 * time.Millisecond }},
		{"rsi bounds inverted", func(c *Config) { c.Signals.RSIOversold = 80 }},
		{"put/call bounds inverted", func(c *Config) { c.Options.PutCallLow = 3 }},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }},
		{"zero rate limit", func(c *Config) { c.Polling.RateLimitPerMinute = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
