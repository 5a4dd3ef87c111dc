package polygon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	polygonrest "github.com/polygon-io/client-go/rest"
	"github.com/polygon-io/client-go/rest/models"

	dmodels "MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

var ErrNoHistory = errors.New("polygon returned no bars")

type aggIterator interface {
	Next() bool
	Item() models.Agg
	Err() error
}

type listAggsFunc func(ctx context.Context, params *models.ListAggsParams) aggIterator

// HistoryFetcher loads daily bars from the aggregates endpoint.
type HistoryFetcher struct {
	list   listAggsFunc
	now    func() time.Time
	logger *logger.Logger
}

func NewHistoryFetcher(apiKey string, httpClient *http.Client, lgr *logger.Logger) *HistoryFetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	client := polygonrest.NewWithClient(apiKey, httpClient)
	return newHistoryFetcher(func(ctx context.Context, p *models.ListAggsParams) aggIterator {
		return client.ListAggs(ctx, p)
	}, lgr)
}

func newHistoryFetcher(list listAggsFunc, lgr *logger.Logger) *HistoryFetcher {
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &HistoryFetcher{list: list, now: time.Now, logger: lgr}
}

// FetchDaily returns up to days daily bars ending today, oldest first.
func (f *HistoryFetcher) FetchDaily(ctx context.Context, symbol string, days int) ([]dmodels.Bar, error) {
	if days <= 0 {
		days = 100
	}
	symbol = strings.ToUpper(symbol)
	to := f.now()
	// calendar days cover weekends and holidays
	from := to.AddDate(0, 0, -(days*7/5 + 7))

	limit := 50000
	order := models.Asc
	adjusted := true
	params := &models.ListAggsParams{
		Ticker:     symbol,
		Multiplier: 1,
		Timespan:   models.Day,
		From:       models.Millis(from),
		To:         models.Millis(to),
		Adjusted:   &adjusted,
		Order:      &order,
		Limit:      &limit,
	}

	iter := f.list(ctx, params)
	var bars []dmodels.Bar
	for iter.Next() {
		agg := iter.Item()
		b := dmodels.Bar{
			Open:      agg.Open,
			High:      agg.High,
			Low:       agg.Low,
			Close:     agg.Close,
			Volume:    agg.Volume,
			Timestamp: time.Time(agg.Timestamp),
		}
		if !b.Valid() {
			continue
		}
		bars = append(bars, b)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("polygon aggregates %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoHistory)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	f.logger.Debug("polygon history loaded", logger.String("symbol", symbol), logger.Int("bars", len(bars)))
	return bars, nil
}
