// Package polygon adapts the Polygon stocks websocket and aggregates REST API.
package polygon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/connection"
	"MarketPulse/pkg/logger"
)

const ProviderName = "polygon"

// Handler receives decoded market events from a live session.
type Handler interface {
	OnTick(t models.Tick)
	OnBar(symbol string, bar models.Bar)
}

type StreamConfig struct {
	URL              string
	APIKey           string
	AggregateChannel string
	PingInterval     time.Duration
	AuthTimeout      time.Duration
}

// Dialer opens authenticated Polygon websocket sessions.
type Dialer struct {
	cfg     StreamConfig
	handler Handler
	logger  *logger.Logger
	metrics drepo.Metrics
	ws      *websocket.Dialer
}

func NewDialer(cfg StreamConfig, handler Handler, lgr *logger.Logger, metrics drepo.Metrics) *Dialer {
	if cfg.AggregateChannel == "" {
		cfg.AggregateChannel = "AM"
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &Dialer{
		cfg:     cfg,
		handler: handler,
		logger:  lgr.With(logger.String("provider", ProviderName)),
		metrics: metrics,
		ws:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (d *Dialer) Dial(ctx context.Context) (connection.Session, error) {
	conn, _, err := d.ws.DialContext(ctx, d.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("polygon connect: %w", err)
	}
	return &session{d: d, conn: conn}, nil
}

type session struct {
	d    *Dialer
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *session) writeJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(v)
}

// Authenticate sends the key and waits for auth_success, skipping the
// initial "connected" status.
func (s *session) Authenticate(ctx context.Context) error {
	if err := s.writeJSON(controlMsg{Action: "auth", Params: s.d.cfg.APIKey}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	deadline := time.Now().Add(s.d.cfg.AuthTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = s.conn.SetReadDeadline(deadline)
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("await auth: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			s.d.logger.Warn("dropping malformed frame during auth", logger.Error(err))
			continue
		}
		for _, st := range f.Statuses {
			switch st.Status {
			case statusAuthSuccess:
				s.d.logger.Info("polygon authenticated")
				return nil
			case statusAuthFailed:
				return fmt.Errorf("%w: %s", connection.ErrAuthFailed, st.Message)
			}
		}
	}
}

func (s *session) Subscribe(_ context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return s.writeJSON(controlMsg{Action: "subscribe", Params: channelParams(s.d.cfg.AggregateChannel, symbols)})
}

func (s *session) Unsubscribe(_ context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	return s.writeJSON(controlMsg{Action: "unsubscribe", Params: channelParams(s.d.cfg.AggregateChannel, symbols)})
}

// Listen reads frames until the connection drops. Cancelling ctx closes the
// connection to unblock the read.
func (s *session) Listen(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(s.d.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = s.Close()
				return
			case <-ticker.C:
				s.writeMu.Lock()
				err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				s.writeMu.Unlock()
				if err != nil {
					s.d.logger.Warn("polygon ping failed", logger.Error(err))
				}
			}
		}
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("polygon read: %w", err)
		}
		s.dispatch(data)
	}
}

func (s *session) dispatch(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		s.malformed(err, data)
		return
	}
	for _, e := range f.Errs {
		s.malformed(e, nil)
	}
	for _, st := range f.Statuses {
		if st.Status != statusConnected && st.Status != statusAuthSuccess {
			s.d.logger.Info("polygon status", logger.String("status", st.Status), logger.String("message", st.Message))
		}
	}
	for _, t := range f.Ticks {
		s.d.handler.OnTick(t)
	}
	for _, b := range f.Bars {
		s.d.handler.OnBar(b.Symbol, b.Bar)
	}
}

func (s *session) malformed(err error, data []byte) {
	if s.d.metrics != nil {
		s.d.metrics.RecordError("polygon_malformed")
	}
	fields := []logger.Field{logger.Error(err)}
	if len(data) > 0 {
		if len(data) > 256 {
			data = data[:256]
		}
		fields = append(fields, logger.String("frame", string(data)))
	}
	s.d.logger.Warn("dropping malformed polygon message", fields...)
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
