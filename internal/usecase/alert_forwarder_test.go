package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/mocks"
	"MarketPulse/internal/service/eventbus"
)

func TestProcessPublishesKeyedBySymbol(t *testing.T) {
	ctrl := gomock.NewController(t)
	pub := mocks.NewMockPublisher(ctrl)
	f := NewAlertForwarder(pub, nil, "alerts", nil, nil, 10, time.Second)

	a := models.NewAlert(models.AlertPriceMove, "AAPL", models.PriorityHigh, "AAPL moved", nil, t0)
	pub.EXPECT().Publish(gomock.Any(), "alerts", []byte("AAPL"), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, _, value []byte) error {
			var got models.Alert
			require.NoError(t, json.Unmarshal(value, &got))
			assert.Equal(t, a.ID, got.ID)
			assert.Equal(t, models.AlertPriceMove, got.Type)
			return nil
		})
	require.NoError(t, f.Process(context.Background(), a))

	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("broker down"))
	assert.Error(t, f.Process(context.Background(), a))
}

func TestRunBatchesIntoStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockAlertStore(ctrl)
	f := NewAlertForwarder(nil, store, "alerts", nil, nil, 2, time.Hour)

	bus := eventbus.New(16)
	defer bus.Close()
	sub := bus.Subscribe(16, f.Categories()...)

	stored := make(chan []models.Alert, 4)
	store.EXPECT().StoreBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, alerts []models.Alert) error {
			stored <- append([]models.Alert(nil), alerts...)
			return nil
		}).Times(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx, sub) }()

	bus.Emit(models.EventAlert, "AAPL", models.NewAlert(models.AlertRSIOverbought, "AAPL", models.PriorityMedium, "", nil, t0))
	bus.Emit(models.EventOptionsSignal, "TSLA", models.NewAlert(models.AlertHighIV, "TSLA", models.PriorityMedium, "", nil, t0))
	bus.Emit(models.EventTick, "AAPL", models.Tick{Symbol: "AAPL"})

	select {
	case batch := <-stored:
		require.Len(t, batch, 2)
		assert.Equal(t, "AAPL", batch[0].Symbol)
		assert.Equal(t, "TSLA", batch[1].Symbol)
	case <-time.After(time.Second):
		t.Fatal("batch not stored")
	}

	bus.Emit(models.EventAlert, "MSFT", models.NewAlert(models.AlertMABullish, "MSFT", models.PriorityLow, "", nil, t0))
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	batch := <-stored
	require.Len(t, batch, 1, "pending alerts flushed on shutdown")
	assert.Equal(t, "MSFT", batch[0].Symbol)
}
