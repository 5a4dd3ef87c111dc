package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/eventbus"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHandler relays bus events to websocket clients as JSON frames.
type StreamHandler struct {
	logger *xlogger.Logger
	bus    *eventbus.Bus
	buffer int
}

func NewStreamHandler(logger *xlogger.Logger, bus *eventbus.Bus, buffer int) *StreamHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &StreamHandler{logger: logger, bus: bus, buffer: buffer}
}

func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/stream", h.Stream)
}

// Stream upgrades the request; ?categories=tick,alert narrows the feed.
func (h *StreamHandler) Stream(c echo.Context) error {
	cats, bad := parseCategories(c.QueryParam("categories"))
	if bad != "" {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("unknown event category %q", bad))
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	defer conn.Close()

	sub := h.bus.Subscribe(h.buffer, cats...)
	defer sub.Close()
	h.logger.Info("stream client connected",
		xlogger.String("remote", c.RealIP()), xlogger.Int("categories", len(cats)))

	// reader only services control frames and notices the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return nil
		case e, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return nil
			}
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("stream write failed", xlogger.Error(err))
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

// parseCategories returns the offending name when one is not recognized.
func parseCategories(raw string) ([]models.EventCategory, string) {
	if strings.TrimSpace(raw) == "" {
		return nil, ""
	}
	known := make(map[models.EventCategory]struct{}, len(models.AllEventCategories))
	for _, c := range models.AllEventCategories {
		known[c] = struct{}{}
	}
	var out []models.EventCategory
	for _, part := range strings.Split(raw, ",") {
		c := models.EventCategory(strings.ToLower(strings.TrimSpace(part)))
		if c == "" {
			continue
		}
		if _, ok := known[c]; !ok {
			return nil, string(c)
		}
		out = append(out, c)
	}
	return out, ""
}
