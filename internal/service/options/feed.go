package options

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/pkg/util"
)

const SourceFeed = "feed"

// FeedStore keeps the latest externally published snapshot per symbol and
// serves it while fresh. Stale or missing symbols go to the fallback source.
type FeedStore struct {
	fallback   drepo.OptionsSource
	staleAfter time.Duration
	now        func() time.Time

	mu     sync.RWMutex
	latest map[string]feedEntry
}

type feedEntry struct {
	flow       models.OptionsFlow
	receivedAt time.Time
}

func NewFeedStore(fallback drepo.OptionsSource, staleAfter time.Duration) *FeedStore {
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &FeedStore{
		fallback:   fallback,
		staleAfter: staleAfter,
		now:        time.Now,
		latest:     make(map[string]feedEntry),
	}
}

// Put records a fed snapshot. Snapshots older than the stored one are ignored.
func (s *FeedStore) Put(f models.OptionsFlow) error {
	f.Symbol = util.NormalizeSymbol(f.Symbol)
	if err := f.Validate(); err != nil {
		return err
	}
	if f.PutCallRatio == 0 && f.CallVolume > 0 {
		f.PutCallRatio = f.PutVolume / f.CallVolume
	}
	if f.TotalVolume == 0 {
		f.TotalVolume = f.CallVolume + f.PutVolume
	}
	now := s.now()
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}
	f.Source = SourceFeed

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.latest[f.Symbol]; ok && f.Timestamp.Before(cur.flow.Timestamp) {
		return nil
	}
	s.latest[f.Symbol] = feedEntry{flow: f, receivedAt: now}
	return nil
}

// Decode parses one JSON snapshot and stores it.
func (s *FeedStore) Decode(b []byte) (models.OptionsFlow, error) {
	var f models.OptionsFlow
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("decode options snapshot: %w", err)
	}
	if err := s.Put(f); err != nil {
		return f, err
	}
	return f, nil
}

func (s *FeedStore) Fetch(ctx context.Context, symbol string) (*models.OptionsFlow, error) {
	s.mu.RLock()
	e, ok := s.latest[symbol]
	s.mu.RUnlock()
	if ok && s.now().Sub(e.receivedAt) <= s.staleAfter {
		f := e.flow
		return &f, nil
	}
	if s.fallback == nil {
		return nil, fmt.Errorf("no fresh options snapshot for %s", symbol)
	}
	return s.fallback.Fetch(ctx, symbol)
}

func (s *FeedStore) Forget(symbol string) {
	s.mu.Lock()
	delete(s.latest, symbol)
	s.mu.Unlock()
}

var _ drepo.OptionsSource = (*FeedStore)(nil)
var _ drepo.OptionsSource = (*Synthetic)(nil)
