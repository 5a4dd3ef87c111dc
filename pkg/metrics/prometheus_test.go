package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordAlert("RSI_OVERBOUGHT", "medium")
	r.RecordAlert("RSI_OVERBOUGHT", "medium")
	r.RecordTick("simulated", "trade")
	r.RecordReconnect()
	r.RecordLastPrice("NVDA", 485.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.alerts.WithLabelValues("RSI_OVERBOUGHT", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ticks.WithLabelValues("simulated", "trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconnects))
	assert.Equal(t, 485.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("NVDA")))
}

func TestConnectionStateGaugeMovesBetweenStates(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordConnectionState("", "connecting")
	r.RecordConnectionState("connecting", "connected")

	assert.Equal(t, 0.0, testutil.ToFloat64(r.connectionState.WithLabelValues("connecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.connectionState.WithLabelValues("connected")))
}

func TestRecordersOnSeparateRegistriesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
