// Package twelvedata is a rate-limited client for the TwelveData REST API.
package twelvedata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/cache"
	phttp "MarketPulse/pkg/http"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/queue"
)

const ProviderName = "twelvedata"

var (
	ErrRateLimited   = errors.New("twelvedata rate limit exceeded")
	ErrProviderError = errors.New("twelvedata error")
	ErrMalformed     = errors.New("malformed twelvedata response")
)

type TTLs struct {
	Quote      time.Duration
	Historical time.Duration
	Indicator  time.Duration
	Earnings   time.Duration
}

type Config struct {
	BaseURL string
	APIKey  string
	TTL     TTLs
}

type Client struct {
	cfg     Config
	http    *phttp.Client
	sched   *queue.Scheduler
	cache   cache.Service
	logger  *logger.Logger
	metrics drepo.Metrics
	now     func() time.Time
}

func NewClient(cfg Config, httpClient *phttp.Client, sched *queue.Scheduler, c cache.Service, lgr *logger.Logger, metrics drepo.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twelvedata.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TTL.Quote <= 0 {
		cfg.TTL.Quote = 15 * time.Second
	}
	if cfg.TTL.Historical <= 0 {
		cfg.TTL.Historical = 5 * time.Minute
	}
	if cfg.TTL.Indicator <= 0 {
		cfg.TTL.Indicator = 5 * time.Minute
	}
	if cfg.TTL.Earnings <= 0 {
		cfg.TTL.Earnings = time.Hour
	}
	if httpClient == nil {
		httpClient = phttp.NewClient()
	}
	if c == nil {
		c = cache.NewMemoryCache()
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		sched:   sched,
		cache:   c,
		logger:  lgr.With(logger.String("provider", ProviderName)),
		metrics: metrics,
		now:     time.Now,
	}
}

func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(symbol)
	key := cache.GenerateKey("td:quote", symbol)
	return cache.GetOrLoad(ctx, c.cache, key, c.cfg.TTL.Quote, func(ctx context.Context) (Quote, error) {
		return queue.Call(ctx, c.sched, queue.KindQuote, func(ctx context.Context) (Quote, error) {
			var resp quoteResponse
			if err := c.get(ctx, "quote", map[string]string{"symbol": symbol}, &resp); err != nil {
				return Quote{}, err
			}
			if resp.Symbol == "" {
				resp.Symbol = symbol
			}
			return resp.toQuote(c.now())
		})
	})
}

// TimeSeries returns bars oldest first.
func (c *Client) TimeSeries(ctx context.Context, symbol, interval string, outputSize int) ([]models.Bar, error) {
	symbol = strings.ToUpper(symbol)
	if interval == "" {
		interval = "1day"
	}
	if outputSize <= 0 {
		outputSize = 30
	}
	key := cache.GenerateKeyWithParams("td:series", symbol, interval, outputSize)
	return cache.GetOrLoad(ctx, c.cache, key, c.cfg.TTL.Historical, func(ctx context.Context) ([]models.Bar, error) {
		return queue.Call(ctx, c.sched, queue.KindTimeSeries, func(ctx context.Context) ([]models.Bar, error) {
			var resp seriesResponse
			params := map[string]string{"symbol": symbol, "interval": interval, "outputsize": strconv.Itoa(outputSize)}
			if err := c.get(ctx, "time_series", params, &resp); err != nil {
				return nil, err
			}
			return resp.toBars()
		})
	})
}

// FetchDaily implements the historical fetcher with daily bars.
func (c *Client) FetchDaily(ctx context.Context, symbol string, days int) ([]models.Bar, error) {
	return c.TimeSeries(ctx, symbol, "1day", days)
}

// Indicator fetches a 14-period indicator series, oldest first.
func (c *Client) Indicator(ctx context.Context, symbol, name, interval string) ([]IndicatorPoint, error) {
	symbol = strings.ToUpper(symbol)
	name = strings.ToLower(name)
	if interval == "" {
		interval = "1day"
	}
	key := cache.GenerateKeyWithParams("td:indicator", symbol, name, interval)
	return cache.GetOrLoad(ctx, c.cache, key, c.cfg.TTL.Indicator, func(ctx context.Context) ([]IndicatorPoint, error) {
		return queue.Call(ctx, c.sched, queue.KindIndicator, func(ctx context.Context) ([]IndicatorPoint, error) {
			var resp seriesResponse
			params := map[string]string{"symbol": symbol, "interval": interval, "time_period": "14", "series_type": "close"}
			if err := c.get(ctx, name, params, &resp); err != nil {
				return nil, err
			}
			return resp.toIndicator(name)
		})
	})
}

// Earnings lists the earnings calendar for one day.
func (c *Client) Earnings(ctx context.Context, day time.Time) ([]EarningsEvent, error) {
	date := day.Format("2006-01-02")
	key := cache.GenerateKey("td:earnings", date)
	return cache.GetOrLoad(ctx, c.cache, key, c.cfg.TTL.Earnings, func(ctx context.Context) ([]EarningsEvent, error) {
		return queue.Call(ctx, c.sched, queue.KindEarnings, func(ctx context.Context) ([]EarningsEvent, error) {
			var resp earningsResponse
			if err := c.get(ctx, "earnings", map[string]string{"start_date": date, "end_date": date}, &resp); err != nil {
				return nil, err
			}
			events, err := resp.events()
			if err != nil {
				return nil, err
			}
			sort.SliceStable(events, func(i, j int) bool { return events[i].Symbol < events[j].Symbol })
			return events, nil
		})
	})
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, dest interface{}) error {
	query := map[string][]string{"apikey": {c.cfg.APIKey}}
	for k, v := range params {
		query[k] = []string{v}
	}

	start := time.Now()
	var body []byte
	err := c.http.SendAndParse(ctx, &phttp.RequestOptions{
		Method:      phttp.MethodGet,
		URL:         c.cfg.BaseURL + "/" + endpoint,
		QueryParams: query,
	}, &body)
	if c.metrics != nil {
		c.metrics.RecordLatency("twelvedata_"+endpoint, time.Since(start).Seconds())
	}
	if err != nil {
		var se *phttp.StatusError
		if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
			err = fmt.Errorf("%s: %w", endpoint, ErrRateLimited)
		} else {
			err = fmt.Errorf("twelvedata %s: %w", endpoint, err)
		}
		c.recordError(endpoint)
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.recordError(endpoint)
		return fmt.Errorf("%w: %s: %v", ErrMalformed, endpoint, err)
	}
	if env.Status == "error" {
		c.recordError(endpoint)
		if env.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%s: %s: %w", endpoint, env.Message, ErrRateLimited)
		}
		return fmt.Errorf("%s: %s: %w", endpoint, env.Message, ErrProviderError)
	}
	if err := json.Unmarshal(body, dest); err != nil {
		c.recordError(endpoint)
		return fmt.Errorf("%w: %s: %v", ErrMalformed, endpoint, err)
	}
	c.logger.Debug("twelvedata call", logger.String("endpoint", endpoint), logger.Duration("took", time.Since(start)))
	return nil
}

func (c *Client) recordError(endpoint string) {
	if c.metrics != nil {
		c.metrics.RecordError("twelvedata_" + endpoint)
	}
}
