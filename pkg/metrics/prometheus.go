package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ticks           *prometheus.CounterVec
	bars            *prometheus.CounterVec
	alerts          *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
	connectionState *prometheus.GaugeVec
	reconnects      prometheus.Counter
	queueDepth      *prometheus.GaugeVec
	eventDrops      *prometheus.CounterVec
}

// New registers the market-data metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ticks: f.NewCounterVec(
			prometheus.CounterOpts{Name: "marketpulse_ticks_total", Help: "Ticks ingested per provider"},
			[]string{"provider", "kind"},
		),
		bars: f.NewCounterVec(
			prometheus.CounterOpts{Name: "marketpulse_bars_total", Help: "Bars appended to the historical buffer"},
			[]string{"symbol"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{Name: "marketpulse_alerts_total", Help: "Alert and signal events emitted"},
			[]string{"type", "priority"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{Name: "marketpulse_errors_total", Help: "Errors by kind"},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "marketpulse_last_price", Help: "Last price seen for a symbol"},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		connectionState: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "marketpulse_connection_state", Help: "1 for the current streaming connection state"},
			[]string{"state"},
		),
		reconnects: f.NewCounter(
			prometheus.CounterOpts{Name: "marketpulse_reconnects_total", Help: "Streaming reconnect attempts"},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "marketpulse_queue_depth", Help: "Items waiting in an internal queue"},
			[]string{"queue"},
		),
		eventDrops: f.NewCounterVec(
			prometheus.CounterOpts{Name: "marketpulse_event_drops_total", Help: "Events dropped on full subscriber buffers"},
			[]string{"category"},
		),
	}
}

func (r *Recorder) RecordTick(provider, kind string) {
	r.ticks.WithLabelValues(provider, kind).Inc()
}

func (r *Recorder) RecordBar(symbol string) {
	r.bars.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordAlert(alertType, priority string) {
	r.alerts.WithLabelValues(alertType, priority).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordConnectionState sets the gauge for state to 1 and prev to 0.
func (r *Recorder) RecordConnectionState(prev, state string) {
	if prev != "" {
		r.connectionState.WithLabelValues(prev).Set(0)
	}
	r.connectionState.WithLabelValues(state).Set(1)
}

func (r *Recorder) RecordReconnect() {
	r.reconnects.Inc()
}

func (r *Recorder) RecordQueueDepth(queue string, n int) {
	r.queueDepth.WithLabelValues(queue).Set(float64(n))
}

func (r *Recorder) RecordEventDrop(category string) {
	r.eventDrops.WithLabelValues(category).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordTick(string, string) {}
func (Nop) RecordBar(string) {}
func (Nop) RecordAlert(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLastPrice(string, float64) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordConnectionState(string, string) {}
func (Nop) RecordReconnect() {}
func (Nop) RecordQueueDepth(string, int) {}
func (Nop) RecordEventDrop(string) {}
