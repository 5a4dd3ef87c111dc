// Package provider adapts the streaming, polling and simulated market-data
// sources to one Provider contract.
package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	drepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/service/simulated"
	"MarketPulse/pkg/logger"
)

var ErrNotStarted = errors.New("provider not started")

// bootstrapper loads history for a new symbol and falls back to synthetic
// bars when the fetch fails.
type bootstrapper struct {
	fetcher drepo.HistoryFetcher
	synth   *simulated.Generator
	days    int
	timeout time.Duration
	logger  *logger.Logger
	metrics drepo.Metrics
	now     func() time.Time
}

func (b *bootstrapper) load(ctx context.Context, symbol string, sink drepo.MarketSink) {
	if b.days <= 0 {
		return
	}
	if b.fetcher != nil {
		fctx, cancel := context.WithTimeout(ctx, b.timeout)
		bars, err := b.fetcher.FetchDaily(fctx, symbol, b.days)
		cancel()
		if err == nil {
			sink.OnHistory(symbol, bars)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if b.metrics != nil {
			b.metrics.RecordError("bootstrap")
		}
		b.logger.Warn("history bootstrap failed, using synthetic bars",
			logger.String("symbol", symbol), logger.Error(err))
	}
	sink.OnHistory(symbol, b.synth.History(symbol, b.days, b.now()))
}

// symbolSet is the adapter-side subscription list.
type symbolSet struct {
	mu  sync.Mutex
	set map[string]struct{}
}

func newSymbolSet() *symbolSet { return &symbolSet{set: make(map[string]struct{})} }

// add reports whether symbol was new.
func (s *symbolSet) add(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[symbol]; ok {
		return false
	}
	s.set[symbol] = struct{}{}
	return true
}

func (s *symbolSet) remove(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.set[symbol]; !ok {
		return false
	}
	delete(s.set, symbol)
	return true
}

func (s *symbolSet) has(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[symbol]
	return ok
}

func (s *symbolSet) list() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.set))
	for sym := range s.set {
		out = append(out, sym)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}
