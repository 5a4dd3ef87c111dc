package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"MarketPulse/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps Kafka readers with a worker pool. Messages from the same
// partition are handled one at a time.
type Consumer struct {
	cfg      *ConsumerConfig
	logger   *logger.Logger
	readers  map[string]messageReader
	handlers map[string]MessageHandler
	hook     ConsumerHook
	dlq      messageWriter
	metrics  *consumerMetrics

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	msgChan  chan *message

	lockMu    sync.Mutex
	partLocks map[string]map[int]*sync.Mutex
}

type message struct {
	topic string
	km    kafka.Message
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "marketpulse",
		StartOffset: kafka.LastOffset,
		WorkerCount: 1,
		BufferSize:  64,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := newConsumer(cfg)
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

func newConsumer(cfg *ConsumerConfig) *Consumer {
	lgr := cfg.Logger
	if lgr == nil {
		lgr = logger.NewNop()
	}
	c := &Consumer{
		cfg:       cfg,
		logger:    lgr,
		readers:   make(map[string]messageReader),
		handlers:  make(map[string]MessageHandler),
		hook:      NoopHook{},
		stopChan:  make(chan struct{}),
		msgChan:   make(chan *message, cfg.BufferSize),
		partLocks: make(map[string]map[int]*sync.Mutex),
	}
	if cfg.Registerer != nil {
		c.metrics = newConsumerMetrics(cfg.Registerer)
	}
	return c
}

// RegisterHandler registers a message handler for a specific topic.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("kafka handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start creates a reader per registered topic and launches the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.cfg.Brokers,
			Topic:       topic,
			GroupID:     c.cfg.GroupID,
			StartOffset: c.cfg.StartOffset,
			MinBytes:    c.cfg.MinBytes,
			MaxBytes:    c.cfg.MaxBytes,
		})
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.wg.Add(1)
		go c.messageWorker()
	}
	for topic, reader := range c.readers {
		c.wg.Add(1)
		go c.consumeMessages(topic, reader)
	}

	c.logger.Info("kafka consumer started",
		logger.Int("workers", c.cfg.WorkerCount), logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop stops the Kafka consumer gracefully.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error

	c.stopOnce.Do(func() {
		close(c.stopChan)
		stopErr = c.waitForWg(ctx)

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.logger.Warn("error closing kafka reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			_ = c.dlq.Close()
		}
		c.logger.Info("kafka consumer stopped")
	})

	return stopErr
}

func (c *Consumer) waitForWg(ctx context.Context) error {
	doneChan := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
	case <-doneChan:
		return nil
	}
}

func (c *Consumer) consumeMessages(topic string, reader messageReader) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		km, err := reader.ReadMessage(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				c.logger.Warn("kafka read failed", logger.String("topic", topic), logger.Error(err))
				c.pause(time.Second)
			}
			continue
		}

		// blocking send applies backpressure to the reader
		select {
		case c.msgChan <- &message{topic: topic, km: km}:
			c.metrics.depth(topic, len(c.msgChan))
		case <-c.stopChan:
			return
		}
	}
}

func (c *Consumer) pause(d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.stopChan:
	}
}

// messageWorker processes messages from the channel.
func (c *Consumer) messageWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopChan:
			return
		case msg := <-c.msgChan:
			c.process(msg)
		}
	}
}

func (c *Consumer) process(msg *message) {
	handler, ok := c.handlers[msg.topic]
	if !ok {
		return
	}
	start := time.Now()

	pl := c.partitionLock(msg.topic, msg.km.Partition)
	pl.Lock()
	defer pl.Unlock()

	err := c.handleWithRetry(handler, msg)
	if err != nil {
		safeOnError(c.hook, context.Background(), msg.topic, msg.km, err)
		c.logger.Error("kafka message dropped after retries", logger.String("topic", msg.topic), logger.Error(err))
		c.toDLQ(msg)
	}

	// commit on success or after DLQ to avoid poison loops
	if err == nil || c.dlq != nil {
		if reader := c.readers[msg.topic]; reader != nil {
			_ = c.commitWithRetry(reader, msg.km, 3)
		}
	}
	c.metrics.latency(msg.topic, time.Since(start))
}

// handleWithRetry runs the handler up to RetryMax+1 times with jittered backoff.
func (c *Consumer) handleWithRetry(handler MessageHandler, msg *message) (err error) {
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(handler, msg)
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		safeOnError(c.hook, context.Background(), msg.topic, msg.km, err)
		select {
		case <-time.After(backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.stopChan:
			return err
		}
	}
}

func (c *Consumer) handleOnce(handler MessageHandler, msg *message) (err error) {
	ctx, err := safeBefore(c.hook, context.Background(), msg.topic, msg.km)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler for %s: %v", msg.topic, r)
		}
		safeAfter(c.hook, ctx, msg.topic, msg.km, err)
	}()
	return handler.Handle(ctx, msg.km.Value)
}

func (c *Consumer) toDLQ(msg *message) {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		return
	}
	if err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Value:   msg.km.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.topic)}},
	}); err != nil {
		c.logger.Error("kafka dlq write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
	}
}

// commitWithRetry commits a single message offset with bounded retries.
func (c *Consumer) commitWithRetry(reader messageReader, km kafka.Message, max int) error {
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.logger.Error("kafka commit failed", logger.Int("attempts", max), logger.Error(err))
	return err
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	m, ok := c.partLocks[topic]
	if !ok {
		m = make(map[int]*sync.Mutex)
		c.partLocks[topic] = m
	}
	l, ok := m[partition]
	if !ok {
		l = &sync.Mutex{}
		m[partition] = l
	}
	return l
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min
	for i := 1; i < attempt && exp < max; i++ {
		exp *= 2
	}
	if exp > max {
		exp = max
	}
	// jitter up to 50%
	if half := int64(exp) / 2; half > 0 {
		exp -= time.Duration(rand.Int63n(half))
	}
	return exp
}

type consumerMetrics struct {
	queueDepth *prometheus.GaugeVec
	handle     *prometheus.HistogramVec
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	f := promauto.With(reg)
	return &consumerMetrics{
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{Name: "marketpulse_kafka_consumer_queue_depth", Help: "Number of messages waiting in consumer queue"},
			[]string{"topic"},
		),
		handle: f.NewHistogramVec(
			prometheus.HistogramOpts{Name: "marketpulse_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		),
	}
}

func (m *consumerMetrics) depth(topic string, n int) {
	if m != nil {
		m.queueDepth.WithLabelValues(topic).Set(float64(n))
	}
}

func (m *consumerMetrics) latency(topic string, d time.Duration) {
	if m != nil {
		m.handle.WithLabelValues(topic).Observe(d.Seconds())
	}
}
