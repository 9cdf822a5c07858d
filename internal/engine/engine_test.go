package engine

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"deriv-fusion-bot/internal/config"
	"deriv-fusion-bot/internal/exec"
	"deriv-fusion-bot/internal/market"
	"deriv-fusion-bot/internal/position"
	"deriv-fusion-bot/internal/state"
	"deriv-fusion-bot/internal/strategy"

	"go.uber.org/zap"
)

// engineFeed is a mutable market fixture: a crowded-long tape whose spot
// price the test moves between cycles.
type engineFeed struct {
	price    float64
	priceErr error
	funding  *market.FundingRate
	clusters []market.LiquidationCluster
	ratio    *market.LongShortRatio
}

func crowdedLongFeed() *engineFeed {
	return &engineFeed{
		price:   100,
		funding: &market.FundingRate{Rate: 0.0012},
		ratio:   &market.LongShortRatio{LongPct: 74, ShortPct: 26, Ratio: 74.0 / 26.0},
		clusters: []market.LiquidationCluster{
			{PriceLevel: 99, LongNotional: 5_000_000, Intensity: market.IntensityHigh},
		},
	}
}

func (f *engineFeed) SpotPrice(context.Context, string) (float64, error) {
	return f.price, f.priceErr
}

func (f *engineFeed) FundingRate(context.Context, string) (*market.FundingRate, error) {
	if f.funding == nil {
		return nil, market.ErrUnavailable
	}
	return f.funding, nil
}

func (f *engineFeed) Liquidations(context.Context, string) ([]market.LiquidationCluster, error) {
	if f.clusters == nil {
		return nil, market.ErrUnavailable
	}
	return f.clusters, nil
}

func (f *engineFeed) LongShortRatio(context.Context, string) (*market.LongShortRatio, error) {
	if f.ratio == nil {
		return nil, market.ErrUnavailable
	}
	return f.ratio, nil
}

func (f *engineFeed) OpenInterest(context.Context, string) (map[float64]market.StrikeOI, error) {
	return nil, market.ErrUnavailable
}

type fakeStore struct {
	open   map[string]*position.Position
	closed []*position.Position
	kv     map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		open: make(map[string]*position.Position),
		kv:   make(map[string]string),
	}
}

func (s *fakeStore) SavePosition(_ context.Context, pos *position.Position) error {
	s.open[pos.ID] = pos
	return nil
}

func (s *fakeStore) UpdateTrailing(_ context.Context, pos *position.Position) error {
	s.open[pos.ID] = pos
	return nil
}

func (s *fakeStore) ClosePosition(_ context.Context, pos *position.Position) error {
	delete(s.open, pos.ID)
	s.closed = append(s.closed, pos)
	return nil
}

func (s *fakeStore) OpenPositions(context.Context) ([]*position.Position, error) {
	out := make([]*position.Position, 0, len(s.open))
	for _, pos := range s.open {
		out = append(out, pos)
	}
	return out, nil
}

func (s *fakeStore) ClosedTrades(_ context.Context, instrument string, _ int) ([]*position.Position, error) {
	var out []*position.Position
	for _, pos := range s.closed {
		if pos.Instrument == instrument {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	val, ok := s.kv[key]
	return val, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key, value string) error {
	s.kv[key] = value
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.kv, key)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func testBotConfig() config.BotConfig {
	return config.BotConfig{
		Instrument:    "BTC-PERP",
		CapitalUSD:    10_000,
		RiskPct:       0.01,
		MinConfidence: "MEDIUM",
		StopLossPct:   0.02,
		TakeProfitPct: 0.03,
		Lifecycle: config.LifecycleConfig{
			TrailingActivationPct: 0.01,
			TrailDistancePct:      0.0075,
			MaxUnrealizedLossPct:  0.03,
			EmergencyStopPct:      0.05,
			MaxHoldDuration:       48 * time.Hour,
		},
	}
}

func newTestEngine(t *testing.T, cfg config.BotConfig, feed *engineFeed, store state.Store) *Engine {
	t.Helper()
	log := zap.NewNop()
	return New(cfg, Deps{
		Aggregator: market.NewAggregator(feed, 0, log),
		Executor:   exec.NewPaper(feed, 0, log),
		Store:      store,
	}, log)
}

func TestCycleOpensShortInCrowdedLongMarket(t *testing.T) {
	feed := crowdedLongFeed()
	store := newFakeStore()
	eng := newTestEngine(t, testBotConfig(), feed, store)
	ctx := context.Background()

	result := eng.RunCycle(ctx, false)
	if result.Outcome != OutcomeTradeOpened {
		t.Fatalf("outcome = %s (reason %q), want TRADE_OPENED", result.Outcome, result.Signal.Reason)
	}
	pos := result.NewPosition
	if pos == nil || pos.Side != position.SideShort {
		t.Fatalf("expected a short position, got %+v", pos)
	}
	if pos.EntryPrice != 100 {
		t.Fatalf("entry = %v, want 100", pos.EntryPrice)
	}
	// 1% of 10k equity over a 3-point widened stop distance.
	if math.Abs(pos.Quantity-100.0/3) > 1e-9 {
		t.Fatalf("quantity = %v, want %v", pos.Quantity, 100.0/3)
	}
	if eng.OpenPositionCount() != 1 {
		t.Fatalf("open positions = %d, want 1", eng.OpenPositionCount())
	}
	if len(store.open) != 1 {
		t.Fatalf("persisted positions = %d, want 1", len(store.open))
	}
	if _, ok := store.kv["equity:BTC-PERP"]; !ok {
		t.Fatalf("equity not persisted after cycle")
	}
	if _, ok := store.kv["tracker:BTC-PERP"]; !ok {
		t.Fatalf("tracker not persisted after cycle")
	}
}

func TestCycleHoldsExistingPosition(t *testing.T) {
	feed := crowdedLongFeed()
	eng := newTestEngine(t, testBotConfig(), feed, newFakeStore())
	ctx := context.Background()

	if result := eng.RunCycle(ctx, false); result.Outcome != OutcomeTradeOpened {
		t.Fatalf("setup cycle outcome = %s", result.Outcome)
	}
	result := eng.RunCycle(ctx, false)
	if result.Outcome != OutcomePositionHeld {
		t.Fatalf("outcome = %s, want POSITION_HELD", result.Outcome)
	}
	if result.PositionsManaged != 1 || result.PositionsClosed != 0 {
		t.Fatalf("managed=%d closed=%d, want 1/0", result.PositionsManaged, result.PositionsClosed)
	}
}

func TestCycleMaxLossClosesAndArmsCooldown(t *testing.T) {
	feed := crowdedLongFeed()
	store := newFakeStore()
	eng := newTestEngine(t, testBotConfig(), feed, store)
	ctx := context.Background()

	if result := eng.RunCycle(ctx, false); result.Outcome != OutcomeTradeOpened {
		t.Fatalf("setup cycle outcome = %s", result.Outcome)
	}
	qty := 100.0 / 3

	// A 4% adverse move on the short breaches the 3% max-loss ceiling.
	feed.price = 104
	result := eng.RunCycle(ctx, false)
	if result.PositionsClosed != 1 {
		t.Fatalf("positions closed = %d, want 1", result.PositionsClosed)
	}
	if len(store.closed) != 1 || store.closed[0].CloseReason != position.ReasonMaxLoss {
		t.Fatalf("closed trade mismatch: %+v", store.closed)
	}
	wantEquity := 10_000 - 4*qty
	if math.Abs(eng.EquityUSD()-wantEquity) > 1e-9 {
		t.Fatalf("equity = %v, want %v", eng.EquityUSD(), wantEquity)
	}
	// The loss arms the short cooldown, so the still-bearish tape cannot
	// re-enter on the same cycle.
	if result.Outcome != OutcomeNoTrade {
		t.Fatalf("outcome = %s, want NO_TRADE", result.Outcome)
	}
	if !strings.HasPrefix(result.Signal.Reason, "DIRECTION_TRACKER_") {
		t.Fatalf("reason = %q, want a direction tracker block", result.Signal.Reason)
	}
}

func TestCycleCloseOnlySkipsEntries(t *testing.T) {
	feed := crowdedLongFeed()
	eng := newTestEngine(t, testBotConfig(), feed, newFakeStore())

	result := eng.RunCycle(context.Background(), true)
	if result.Outcome != OutcomeCloseOnly {
		t.Fatalf("outcome = %s, want CLOSE_ONLY", result.Outcome)
	}
	if eng.OpenPositionCount() != 0 {
		t.Fatalf("close-only cycle opened a position")
	}
}

func TestCycleNoMarketData(t *testing.T) {
	feed := crowdedLongFeed()
	feed.priceErr = market.ErrUnavailable
	eng := newTestEngine(t, testBotConfig(), feed, newFakeStore())

	result := eng.RunCycle(context.Background(), false)
	if result.Outcome != OutcomeNoMarketData {
		t.Fatalf("outcome = %s, want NO_MARKET_DATA", result.Outcome)
	}
}

func TestCycleBlockedByInitialMargin(t *testing.T) {
	cfg := testBotConfig()
	cfg.MinQuantity = 10_000
	cfg.Margin = config.MarginConfig{
		Leveraged:             true,
		ContractSize:          1,
		InitialMarginRate:     0.10,
		MaintenanceMarginRate: 0.05,
	}
	eng := newTestEngine(t, cfg, crowdedLongFeed(), newFakeStore())

	result := eng.RunCycle(context.Background(), false)
	if result.Outcome != OutcomeBlockedMargin {
		t.Fatalf("outcome = %s, want BLOCKED_MARGIN", result.Outcome)
	}
	if result.Err == nil {
		t.Fatalf("expected a margin error")
	}
	if eng.OpenPositionCount() != 0 {
		t.Fatalf("blocked entry still opened a position")
	}
}

func TestCycleStopAndReverse(t *testing.T) {
	cfg := testBotConfig()
	cfg.Lifecycle.SARTriggerPct = 0.02
	cfg.Lifecycle.SARMinFavorablePct = 0.005
	feed := crowdedLongFeed()
	store := newFakeStore()
	eng := newTestEngine(t, cfg, feed, store)
	ctx := context.Background()

	if result := eng.RunCycle(ctx, false); result.Outcome != OutcomeTradeOpened {
		t.Fatalf("setup cycle outcome = %s", result.Outcome)
	}

	// 2.5% against a never-favorable short trips the reversal before the
	// 3% max-loss ceiling.
	feed.price = 102.5
	result := eng.RunCycle(ctx, false)
	if result.PositionsClosed != 1 {
		t.Fatalf("positions closed = %d, want 1", result.PositionsClosed)
	}
	if len(store.closed) != 1 || store.closed[0].CloseReason != position.ReasonStopAndReverse {
		t.Fatalf("closed trade mismatch: %+v", store.closed)
	}
	// The reversal exits at the trigger price, not the scan price.
	if store.closed[0].ClosePrice != 102 {
		t.Fatalf("close price = %v, want 102", store.closed[0].ClosePrice)
	}
	if result.NewPosition == nil || result.NewPosition.Side != position.SideLong {
		t.Fatalf("expected a reversed long, got %+v", result.NewPosition)
	}
	if result.NewPosition.EntryPrice != 102.5 {
		t.Fatalf("reversed entry = %v, want 102.5", result.NewPosition.EntryPrice)
	}
	// The replacement carries emergency-width protective levels, not the
	// standard 2%/3% entry widths.
	if math.Abs(result.NewPosition.StopLoss-102.5*0.95) > 1e-9 {
		t.Fatalf("reversed stop = %v, want %v", result.NewPosition.StopLoss, 102.5*0.95)
	}
	if math.Abs(result.NewPosition.TakeProfit-102.5*1.05) > 1e-9 {
		t.Fatalf("reversed target = %v, want %v", result.NewPosition.TakeProfit, 102.5*1.05)
	}
	if result.Outcome != OutcomePositionHeld {
		t.Fatalf("outcome = %s, want POSITION_HELD", result.Outcome)
	}
	if eng.OpenPositionCount() != 1 {
		t.Fatalf("open positions = %d, want 1", eng.OpenPositionCount())
	}
}

func TestCyclePanicIsContained(t *testing.T) {
	feed := crowdedLongFeed()
	log := zap.NewNop()
	// No aggregator wired: the entry path dereferences nil and must be
	// contained to an ERROR result instead of killing the scheduler.
	eng := New(testBotConfig(), Deps{
		Executor: exec.NewPaper(feed, 0, log),
	}, log)

	result := eng.RunCycle(context.Background(), false)
	if result.Outcome != OutcomeError {
		t.Fatalf("outcome = %s, want ERROR", result.Outcome)
	}
	if result.Err == nil {
		t.Fatalf("expected the panic to surface as an error")
	}
}

func TestRestoreReloadsState(t *testing.T) {
	feed := crowdedLongFeed()
	store := newFakeStore()
	ctx := context.Background()

	openedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mine := position.New("BTC-PERP", position.SideShort, 1, 100, 103, 95, 1, openedAt)
	other := position.New("ETH-PERP", position.SideLong, 1, 2500, 2450, 2600, 1, openedAt)
	if err := store.SavePosition(ctx, mine); err != nil {
		t.Fatalf("seed position failed: %v", err)
	}
	if err := store.SavePosition(ctx, other); err != nil {
		t.Fatalf("seed position failed: %v", err)
	}
	if err := store.Set(ctx, "equity:BTC-PERP", "9500"); err != nil {
		t.Fatalf("seed equity failed: %v", err)
	}
	tracker := strategy.NewDirectionTracker(strategy.TrackerConfig{CooldownScans: 5})
	tracker.RecordTrade(strategy.Short, false, 0)
	if err := state.SaveTrackerState(ctx, store, "BTC-PERP", tracker.State()); err != nil {
		t.Fatalf("seed tracker failed: %v", err)
	}

	eng := newTestEngine(t, testBotConfig(), feed, store)
	if err := eng.Restore(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if eng.OpenPositionCount() != 1 {
		t.Fatalf("open positions = %d, want only this instrument's", eng.OpenPositionCount())
	}
	if eng.EquityUSD() != 9500 {
		t.Fatalf("equity = %v, want 9500", eng.EquityUSD())
	}
}
