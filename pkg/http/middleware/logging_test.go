package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/pkg/logger"
)

func TestRequestIDIsAssignedOrReused(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/api/status", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRecoverLogsPanicAndReturns500(t *testing.T) {
	var buf bytes.Buffer
	lgr := logger.NewWriter(&buf)

	e := echo.New()
	e.Use(RequestID(), Recover(lgr), RequestLogging(lgr))
	e.GET("/api/quotes/:symbol", func(c echo.Context) error { panic("boom") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quotes/AAPL", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "panic in handler")
	assert.Contains(t, buf.String(), rec.Header().Get(echo.HeaderXRequestID))
}
