// Package options supplies options-flow snapshots to the monitor.
package options

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/simulated"
)

const SourceSynthetic = "synthetic"

// Synthetic draws snapshots from fixed ranges. Put/call ratio and total
// volume are derived from the drawn call and put volumes.
type Synthetic struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

func NewSynthetic(seed int64) *Synthetic {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Synthetic{rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

func (s *Synthetic) Fetch(ctx context.Context, symbol string) (*models.OptionsFlow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	calls := float64(s.rng.Intn(60000) + 5000)
	puts := float64(s.rng.Intn(40000) + 5000)
	f := &models.OptionsFlow{
		Symbol:             symbol,
		CallVolume:         calls,
		PutVolume:          puts,
		TotalVolume:        calls + puts,
		CallOpenInterest:   float64(s.rng.Intn(500000) + 50000),
		PutOpenInterest:    float64(s.rng.Intn(300000) + 30000),
		PutCallRatio:       puts / calls,
		AvgIV:              0.2 + s.rng.Float64()*0.8,
		GammaExposureLevel: s.rng.Float64() * 0.3,
		MaxPain:            models.RoundCents(simulated.StartPrice(symbol) + (s.rng.Float64()-0.5)*10),
		UnusualActivity:    s.rng.Float64() > 0.8,
		Source:             SourceSynthetic,
		Timestamp:          s.now(),
	}
	return f, nil
}
