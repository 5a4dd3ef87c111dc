package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerEncodesAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := &fakeWriter{}
	p := newProducer(w, &ProducerConfig{Compression: "snappy", Registerer: reg})

	require.NoError(t, p.Publish(context.Background(), "alerts", []byte("AAPL"), []byte(`{"a":1}`)))
	require.NoError(t, p.PublishMessage(context.Background(), "logs", map[string]int{"n": 2}))
	require.NoError(t, p.PublishBatch(context.Background(), "alerts", []Message{{Key: []byte("X"), Value: "raw"}}))

	require.Len(t, w.msgs, 3)
	assert.Equal(t, "AAPL", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"n":2}`, string(w.msgs[1].Value))
	assert.Equal(t, "raw", string(w.msgs[2].Value))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("alerts", "snappy", "ok")))

	w.err = errors.New("broker down")
	err := p.Publish(context.Background(), "alerts", nil, []byte("x"))
	assert.ErrorIs(t, err, w.err)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.msgs.WithLabelValues("alerts", "snappy", "error")))
}

type flakyHandler struct {
	failures int
	calls    int
}

func (h *flakyHandler) Topic() string { return "feed" }

func (h *flakyHandler) Handle(context.Context, []byte) error {
	h.calls++
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

type fakeReader struct {
	mu        sync.Mutex
	committed int
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(context.Context, ...kafka.Message) error {
	r.mu.Lock()
	r.committed++
	r.mu.Unlock()
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerRetriesThenCommits(t *testing.T) {
	c := newConsumer(&ConsumerConfig{RetryMax: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond})
	h := &flakyHandler{failures: 2}
	c.RegisterHandler(h)
	r := &fakeReader{}
	c.readers["feed"] = r

	var errs int
	c.WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, error) { errs++ }})

	c.process(&message{topic: "feed", km: kafka.Message{Value: []byte("{}")}})
	assert.Equal(t, 3, h.calls)
	assert.Equal(t, 2, errs)
	assert.Equal(t, 1, r.committed)
}

func TestConsumerGivesUpWithoutCommitWhenNoDLQ(t *testing.T) {
	c := newConsumer(&ConsumerConfig{RetryMax: 1, BackoffMin: time.Millisecond, BackoffMax: time.Millisecond})
	h := &flakyHandler{failures: 10}
	c.RegisterHandler(h)
	r := &fakeReader{}
	c.readers["feed"] = r

	c.process(&message{topic: "feed", km: kafka.Message{Value: []byte("{}")}})
	assert.Equal(t, 2, h.calls)
	assert.Zero(t, r.committed)
}

func TestBeforeHookPanicIsContained(t *testing.T) {
	c := newConsumer(&ConsumerConfig{RetryMax: 0})
	h := &flakyHandler{}
	c.RegisterHandler(h)
	c.WithConsumerHook(HookFuncs{Before: func(context.Context, string, kafka.Message) (context.Context, error) {
		panic("boom")
	}})

	var herr *HookError
	err := c.handleOnce(h, &message{topic: "feed"})
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "ERR_PANIC", herr.Code)
	assert.Zero(t, h.calls)
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.LessOrEqual(t, d, 80*time.Millisecond)
		assert.Greater(t, d, time.Duration(0))
	}
}
