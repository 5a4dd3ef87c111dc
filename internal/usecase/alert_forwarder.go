package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/eventbus"
	"MarketPulse/pkg/logger"
)

// AlertForwarder ships alerts and options signals to the external sinks:
// each one is published as it arrives, and the journal store gets batches.
// Either sink may be nil.
type AlertForwarder struct {
	pub     drepo.Publisher
	store   drepo.AlertStore
	topic   string
	metrics drepo.Metrics
	logger  *logger.Logger
	batchSz int
	batchTO time.Duration
}

func NewAlertForwarder(
	pub drepo.Publisher,
	store drepo.AlertStore,
	topic string,
	metrics drepo.Metrics,
	lgr *logger.Logger,
	batchSz int,
	batchTO time.Duration,
) *AlertForwarder {
	if batchSz <= 0 {
		batchSz = 50
	}
	if batchTO <= 0 {
		batchTO = 2 * time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	return &AlertForwarder{
		pub:     pub,
		store:   store,
		topic:   topic,
		metrics: metrics,
		logger:  lgr.With(logger.String("component", "alert_forwarder")),
		batchSz: batchSz,
		batchTO: batchTO,
	}
}

// Categories are the bus categories the forwarder should be subscribed to.
func (f *AlertForwarder) Categories() []models.EventCategory {
	return []models.EventCategory{models.EventAlert, models.EventOptionsSignal}
}

// Run drains sub until ctx is done or the subscription closes, flushing the
// pending batch on the way out.
func (f *AlertForwarder) Run(ctx context.Context, sub *eventbus.Subscription) error {
	defer sub.Close()

	ticker := time.NewTicker(f.batchTO)
	defer ticker.Stop()

	batch := make([]models.Alert, 0, f.batchSz)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := f.ProcessBatch(ctx, batch); err != nil {
			f.logger.Warn("alert batch not stored", logger.Int("alerts", len(batch)), logger.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			flush(fctx)
			cancel()
			return nil
		case <-ticker.C:
			flush(ctx)
		case e, ok := <-sub.C():
			if !ok {
				flush(ctx)
				return nil
			}
			a, isAlert := e.Payload.(models.Alert)
			if !isAlert {
				continue
			}
			if err := f.Process(ctx, a); err != nil {
				f.logger.Warn("alert not published", logger.String("alert_id", a.ID), logger.Error(err))
			}
			batch = append(batch, a)
			if len(batch) >= f.batchSz {
				flush(ctx)
			}
		}
	}
}

// Process publishes one alert keyed by symbol.
func (f *AlertForwarder) Process(ctx context.Context, a models.Alert) error {
	if f.pub == nil {
		return nil
	}
	start := time.Now()
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if err := f.pub.Publish(ctx, f.topic, []byte(a.Symbol), value); err != nil {
		if f.metrics != nil {
			f.metrics.RecordError("alert_publish")
		}
		return fmt.Errorf("publish alert: %w", err)
	}
	if f.metrics != nil {
		f.metrics.RecordLatency("alert_publish", time.Since(start).Seconds())
	}
	return nil
}

// ProcessBatch writes alerts to the journal store.
func (f *AlertForwarder) ProcessBatch(ctx context.Context, alerts []models.Alert) error {
	if f.store == nil || len(alerts) == 0 {
		return nil
	}
	start := time.Now()
	if err := f.store.StoreBatch(ctx, alerts); err != nil {
		if f.metrics != nil {
			f.metrics.RecordError("alert_store")
		}
		return fmt.Errorf("store alerts: %w", err)
	}
	if f.metrics != nil {
		f.metrics.RecordLatency("alert_store", time.Since(start).Seconds())
	}
	return nil
}

// Close closes the journal store if there is one. The publisher is owned by
// whoever built it.
func (f *AlertForwarder) Close() error {
	if f.store != nil {
		return f.store.Close()
	}
	return nil
}
