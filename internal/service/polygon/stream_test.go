package polygon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/connection"
)

type recordingHandler struct {
	mu    sync.Mutex
	ticks []models.Tick
	bars  []symbolBar
	got   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{got: make(chan struct{}, 16)}
}

func (h *recordingHandler) OnTick(t models.Tick) {
	h.mu.Lock()
	h.ticks = append(h.ticks, t)
	h.mu.Unlock()
	h.got <- struct{}{}
}

func (h *recordingHandler) OnBar(symbol string, bar models.Bar) {
	h.mu.Lock()
	h.bars = append(h.bars, symbolBar{Symbol: symbol, Bar: bar})
	h.mu.Unlock()
	h.got <- struct{}{}
}

func (h *recordingHandler) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
}

// fakePolygon serves the websocket handshake and hands each connection to script.
func fakePolygon(t *testing.T, script func(conn *websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionAuthSubscribeAndDispatch(t *testing.T) {
	subscribed := make(chan controlMsg, 1)
	url := fakePolygon(t, func(conn *websocket.Conn) {
		assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"connected"}]`)))

		var auth controlMsg
		assert.NoError(t, conn.ReadJSON(&auth))
		assert.Equal(t, "auth", auth.Action)
		assert.Equal(t, "secret", auth.Params)
		assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"auth_success"}]`)))

		var sub controlMsg
		assert.NoError(t, conn.ReadJSON(&sub))
		subscribed <- sub

		frame := `[
			{"ev":"T","sym":"aapl","p":187.5,"s":300,"t":1700000000000},
			{"ev":"Q","sym":"AAPL","bp":187.4,"bs":2,"ap":187.6,"as":3,"t":1700000000001},
			{"ev":"T","sym":"AAPL","p":"bad"},
			{"ev":"AM","sym":"AAPL","o":187,"h":188,"l":186.5,"c":187.5,"v":12000,"s":1699999940000,"e":1700000000000}
		]`
		assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
		assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
		time.Sleep(200 * time.Millisecond)
	})

	h := newRecordingHandler()
	d := NewDialer(StreamConfig{URL: url, APIKey: "secret"}, h, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := d.Dial(ctx)
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.Authenticate(ctx))
	require.NoError(t, sess.Subscribe(ctx, []string{"AAPL", "MSFT"}))

	sub := <-subscribed
	assert.Equal(t, "subscribe", sub.Action)
	assert.Equal(t, "T.AAPL,Q.AAPL,AM.AAPL,T.MSFT,Q.MSFT,AM.MSFT", sub.Params)

	listenErr := make(chan error, 1)
	go func() { listenErr <- sess.Listen(ctx) }()

	h.wait(t, 3)

	h.mu.Lock()
	require.Len(t, h.ticks, 2)
	assert.Equal(t, "AAPL", h.ticks[0].Symbol)
	assert.Equal(t, models.TickTrade, h.ticks[0].Kind)
	assert.Equal(t, 300.0, h.ticks[0].Size)
	assert.Equal(t, time.UnixMilli(1700000000000), h.ticks[0].Timestamp)
	assert.Equal(t, models.TickQuote, h.ticks[1].Kind)
	assert.Equal(t, 187.6, h.ticks[1].Ask)
	require.Len(t, h.bars, 1)
	assert.Equal(t, time.UnixMilli(1699999940000), h.bars[0].Bar.Timestamp)
	assert.Equal(t, 12000.0, h.bars[0].Bar.Volume)
	h.mu.Unlock()

	select {
	case err := <-listenErr:
		require.Error(t, err, "server hangup ends Listen")
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after the server closed")
	}
}

func TestSessionAuthFailedIsTerminal(t *testing.T) {
	url := fakePolygon(t, func(conn *websocket.Conn) {
		var auth controlMsg
		_ = conn.ReadJSON(&auth)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"ev":"status","status":"auth_failed","message":"authentication failed"}]`))
		time.Sleep(100 * time.Millisecond)
	})

	d := NewDialer(StreamConfig{URL: url, APIKey: "wrong"}, newRecordingHandler(), nil, nil)
	ctx := context.Background()
	sess, err := d.Dial(ctx)
	require.NoError(t, err)
	defer sess.Close()

	err = sess.Authenticate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, connection.ErrAuthFailed))
}

func TestSessionAuthTimeout(t *testing.T) {
	url := fakePolygon(t, func(conn *websocket.Conn) {
		var auth controlMsg
		_ = conn.ReadJSON(&auth)
		time.Sleep(500 * time.Millisecond)
	})

	d := NewDialer(StreamConfig{URL: url, AuthTimeout: 50 * time.Millisecond}, newRecordingHandler(), nil, nil)
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	err = sess.Authenticate(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, connection.ErrAuthFailed), "a timeout is retryable")
}

func TestListenStopsOnCancel(t *testing.T) {
	url := fakePolygon(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := NewDialer(StreamConfig{URL: url}, newRecordingHandler(), nil, nil)
	sess, err := d.Dial(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Listen(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen ignored cancellation")
	}
}

func TestDecodeFrame(t *testing.T) {
	f, err := decodeFrame([]byte(`{"ev":"T","sym":"X","p":1,"s":1,"t":1}`))
	require.NoError(t, err)
	assert.Len(t, f.Ticks, 1, "single objects are accepted")

	f, err = decodeFrame([]byte(`[{"ev":"XX"},{"ev":"T","sym":"","p":1,"s":1,"t":1},{"ev":"Q","sym":"X","bp":0,"ap":0,"t":1}]`))
	require.NoError(t, err)
	assert.Empty(t, f.Ticks)
	assert.Len(t, f.Errs, 3)
	for _, e := range f.Errs {
		assert.ErrorIs(t, e, ErrMalformed)
	}

	_, err = decodeFrame([]byte(`garbage`))
	assert.ErrorIs(t, err, ErrMalformed)
}
