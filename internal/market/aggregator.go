package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Aggregator fetches the raw feeds and fuses them into snapshots. Snapshots
// are cached per instrument for a short TTL to bound external call volume;
// a cache hit returns the prior snapshot unchanged.
type Aggregator struct {
	feed DataFeed
	ttl  time.Duration
	log  *zap.Logger
	now  func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	snap    *MarketSnapshot
	fetched time.Time
}

func NewAggregator(feed DataFeed, ttl time.Duration, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		feed:  feed,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
	}
}

// Snapshot returns the fused snapshot for an instrument, or nil when no spot
// price can be obtained from the feed. Every other sub-fetch is optional.
func (a *Aggregator) Snapshot(ctx context.Context, instrument string) *MarketSnapshot {
	now := a.now().UTC()
	a.mu.Lock()
	if entry, ok := a.cache[instrument]; ok && a.ttl > 0 && now.Sub(entry.fetched) < a.ttl {
		a.mu.Unlock()
		return entry.snap
	}
	a.mu.Unlock()

	spot, err := a.feed.SpotPrice(ctx, instrument)
	if err != nil || spot <= 0 {
		a.log.Warn("spot price unavailable", zap.String("instrument", instrument), zap.Error(err))
		return nil
	}

	funding, err := a.feed.FundingRate(ctx, instrument)
	if err != nil {
		a.log.Debug("funding rate unavailable", zap.String("instrument", instrument), zap.Error(err))
		funding = nil
	}
	clusters, err := a.feed.Liquidations(ctx, instrument)
	if err != nil {
		a.log.Debug("liquidation data unavailable", zap.String("instrument", instrument), zap.Error(err))
		clusters = nil
	}
	ratio, err := a.feed.LongShortRatio(ctx, instrument)
	if err != nil {
		a.log.Debug("long/short ratio unavailable", zap.String("instrument", instrument), zap.Error(err))
		ratio = nil
	}
	oi, err := a.feed.OpenInterest(ctx, instrument)
	if err != nil {
		a.log.Debug("open interest unavailable", zap.String("instrument", instrument), zap.Error(err))
		oi = nil
	}

	snap := BuildSnapshot(instrument, spot, now, funding, clusters, ratio, oi)
	a.mu.Lock()
	a.cache[instrument] = cacheEntry{snap: snap, fetched: now}
	a.mu.Unlock()

	a.log.Debug("snapshot built",
		zap.String("instrument", instrument),
		zap.Float64("spot", spot),
		zap.String("combined_signal", string(snap.CombinedSignal)),
		zap.String("confidence", string(snap.CombinedConfidence)),
	)
	return snap
}

// Invalidate drops the cached snapshot for an instrument.
func (a *Aggregator) Invalidate(instrument string) {
	a.mu.Lock()
	delete(a.cache, instrument)
	a.mu.Unlock()
}
