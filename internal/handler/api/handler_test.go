package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/mocks"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/service/twelvedata"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
)

type fakeMarket struct {
	quotes  map[string]models.Quote
	tech    map[string]models.Technicals
	bars    []models.Bar
	watch   []string
	lastCnt int
}

func (f *fakeMarket) Subscribe(symbol string) error {
	if strings.TrimSpace(symbol) == "?" {
		return usecase.ErrInvalidSymbol
	}
	f.watch = append(f.watch, strings.ToUpper(symbol))
	return nil
}

func (f *fakeMarket) Unsubscribe(string) error { return errors.New("provider closed") }

func (f *fakeMarket) GetQuote(symbol string) (models.Quote, bool) {
	q, ok := f.quotes[strings.ToUpper(symbol)]
	return q, ok
}

func (f *fakeMarket) GetTechnicals(symbol string) (models.Technicals, bool) {
	t, ok := f.tech[strings.ToUpper(symbol)]
	return t, ok
}

func (f *fakeMarket) GetHistoricalBars(_ string, count int) []models.Bar {
	f.lastCnt = count
	return f.bars
}

func (f *fakeMarket) HistoryCapacity() int { return 200 }

func (f *fakeMarket) GetStatus() models.Status {
	return models.Status{Connected: true, Provider: "simulated", Subscriptions: f.watch, CacheSize: len(f.quotes)}
}

func (f *fakeMarket) Movers(n int) []models.Quote {
	out := make([]models.Quote, 0, n)
	for _, q := range f.quotes {
		if len(out) == n {
			break
		}
		out = append(out, q)
	}
	return out
}

type fakeResearch struct{ err error }

func (f *fakeResearch) Indicator(_ context.Context, _, _, _ string) ([]twelvedata.IndicatorPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []twelvedata.IndicatorPoint{{Timestamp: time.Now(), Value: 55}}, nil
}

func (f *fakeResearch) Earnings(_ context.Context, day time.Time) ([]twelvedata.EarningsEvent, error) {
	return []twelvedata.EarningsEvent{{Symbol: "AAPL", Date: day.Format(time.DateOnly)}}, f.err
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) xhttp.APIResponse {
	t.Helper()
	var out xhttp.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func newMarketServer(t *testing.T, market *fakeMarket, opts ...MarketOption) *echo.Echo {
	t.Helper()
	options := usecase.NewOptionsFlowMonitor(usecase.OptionsMonitorConfig{Symbols: []string{"TSLA"}, Interval: time.Minute}, nil, nil, nil, nil)
	e := echo.New()
	NewMarketHandler(nil, market, options, opts...).RegisterRoutes(e)
	return e
}

func TestQuoteRoutes(t *testing.T) {
	market := &fakeMarket{
		quotes: map[string]models.Quote{"NVDA": {Symbol: "NVDA", Price: 485.5}},
		tech:   map[string]models.Technicals{},
	}
	e := newMarketServer(t, market)

	rec := serve(e, http.MethodGet, "/api/quotes/NVDA", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, 485.5, data["price"])

	rec = serve(e, http.MethodGet, "/api/quotes/MSFT", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, http.MethodGet, "/api/technicals/NVDA", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "technicals absent until enough bars")

	rec = serve(e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "simulated", decode(t, rec).Data.(map[string]interface{})["provider"])
}

func TestBarsDefaultsAndValidation(t *testing.T) {
	market := &fakeMarket{bars: []models.Bar{{Close: 1}}}
	e := newMarketServer(t, market)

	rec := serve(e, http.MethodGet, "/api/bars/AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, market.lastCnt)

	rec = serve(e, http.MethodGet, "/api/bars/AAPL?count=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, market.lastCnt)

	rec = serve(e, http.MethodGet, "/api/bars/AAPL?count=200", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 200, market.lastCnt)

	market.lastCnt = 0
	rec = serve(e, http.MethodGet, "/api/bars/AAPL?count=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, market.lastCnt, "over-capacity count never reaches the engine")

	rec = serve(e, http.MethodGet, "/api/bars/AAPL?count=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWatchlistMembership(t *testing.T) {
	market := &fakeMarket{}
	e := newMarketServer(t, market)

	rec := serve(e, http.MethodPost, "/api/watchlist", `{"symbol":"amd"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"AMD"}, market.watch)

	rec = serve(e, http.MethodPost, "/api/watchlist", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodPost, "/api/watchlist", `{"symbol":"?"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodDelete, "/api/watchlist/AMD", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOptionsRoutes(t *testing.T) {
	e := newMarketServer(t, &fakeMarket{})

	rec := serve(e, http.MethodPost, "/api/options/watchlist", `{"symbol":"gme"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(e, http.MethodGet, "/api/options/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, []interface{}{"GME", "TSLA"}, st["symbols"])
	assert.Equal(t, "1m0s", st["updateInterval"])

	rec = serve(e, http.MethodGet, "/api/options/GME", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, http.MethodDelete, "/api/options/watchlist/GME", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAlertsRouteUsesJournal(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockAlertStore(ctrl)
	e := newMarketServer(t, &fakeMarket{}, WithAlertStore(store))

	at := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	store.EXPECT().Recent(gomock.Any(), "AAPL", 50).
		Return([]models.Alert{models.NewAlert(models.AlertPriceMove, "AAPL", models.PriorityHigh, "moved", nil, at)}, nil)
	rec := serve(e, http.MethodGet, "/api/alerts?symbol=AAPL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec).Data.(map[string]interface{})
	assert.Equal(t, 1.0, list["total"])

	store.EXPECT().Recent(gomock.Any(), "", 5).Return(nil, errors.New("clickhouse down"))
	rec = serve(e, http.MethodGet, "/api/alerts?limit=5", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	e := newMarketServer(t, &fakeMarket{}, WithRateLimit(RateLimit(ratelimit.New(0.001, 2), nil)))

	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/api/status", "").Code)
	rec := serve(e, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestResearchRoutes(t *testing.T) {
	research := &fakeResearch{}
	h := NewResearchHandler(nil, research, nil)
	h.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	e := echo.New()
	h.RegisterRoutes(e)

	rec := serve(e, http.MethodGet, "/api/research/indicators/AAPL/rsi", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/api/research/indicators/AAPL/vwapx", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodGet, "/api/research/earnings?date=2025-05-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "2025-05-02")

	rec = serve(e, http.MethodGet, "/api/research/earnings?date=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	research.err = twelvedata.ErrRateLimited
	rec = serve(e, http.MethodGet, "/api/research/indicators/AAPL/macd", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestStreamRelaysSelectedCategories(t *testing.T) {
	bus := eventbus.New(16)
	defer bus.Close()
	e := echo.New()
	NewStreamHandler(nil, bus, 16).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream?categories=alert"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Emit(models.EventTick, "AAPL", models.Tick{Symbol: "AAPL"})
	bus.Emit(models.EventAlert, "AAPL", models.NewAlert(models.AlertRSIOversold, "AAPL", models.PriorityMedium, "oversold", nil, time.Now()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.EventAlert, got.Category)
	assert.Equal(t, "AAPL", got.Symbol)
}

func TestStreamRejectsUnknownCategory(t *testing.T) {
	e := echo.New()
	NewStreamHandler(nil, eventbus.New(4), 4).RegisterRoutes(e)
	rec := serve(e, http.MethodGet, "/api/stream?categories=tick,quotes", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
