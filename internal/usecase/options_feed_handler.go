package usecase

import (
	"context"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
)

type optionsFeed interface {
	Decode(b []byte) (models.OptionsFlow, error)
}

// OptionsFeedHandler consumes published options snapshots into the feed store.
type OptionsFeedHandler struct {
	topic   string
	feed    optionsFeed
	metrics drepo.Metrics
}

func NewOptionsFeedHandler(topic string, feed optionsFeed, metrics drepo.Metrics) *OptionsFeedHandler {
	return &OptionsFeedHandler{topic: topic, feed: feed, metrics: metrics}
}

func (h *OptionsFeedHandler) Topic() string { return h.topic }

// incoming message schema: one options flow snapshot as JSON
func (h *OptionsFeedHandler) Handle(_ context.Context, b []byte) error {
	f, err := h.feed.Decode(b)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordError("options_feed_decode")
		}
		return err
	}
	if h.metrics != nil && !f.Timestamp.IsZero() {
		h.metrics.RecordLatency("options_feed_lag", time.Since(f.Timestamp).Seconds())
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*OptionsFeedHandler)(nil)
