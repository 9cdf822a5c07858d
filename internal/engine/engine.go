package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"deriv-fusion-bot/internal/advisory"
	"deriv-fusion-bot/internal/alerts"
	"deriv-fusion-bot/internal/config"
	"deriv-fusion-bot/internal/exec"
	"deriv-fusion-bot/internal/market"
	"deriv-fusion-bot/internal/metrics"
	"deriv-fusion-bot/internal/position"
	"deriv-fusion-bot/internal/state"
	"deriv-fusion-bot/internal/strategy"
	"deriv-fusion-bot/internal/timescale"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeNoMarketData    Outcome = "NO_MARKET_DATA"
	OutcomeCloseOnly       Outcome = "CLOSE_ONLY"
	OutcomePositionHeld    Outcome = "POSITION_HELD"
	OutcomeNoTrade         Outcome = "NO_TRADE"
	OutcomeBlockedMargin   Outcome = "BLOCKED_MARGIN"
	OutcomeExecutionFailed Outcome = "EXECUTION_FAILED"
	OutcomeTradeOpened     Outcome = "TRADE_OPENED"
	OutcomeError           Outcome = "ERROR"
)

// CycleResult summarizes one scan cycle for one instrument.
type CycleResult struct {
	Outcome          Outcome
	Cycle            int64
	PositionsManaged int
	PositionsClosed  int
	Signal           strategy.Signal
	NewPosition      *position.Position
	Err              error
}

// Engine drives one instrument: manage open positions first, then consider a
// new entry. It owns all mutable trading state for its instrument and is
// never called concurrently.
type Engine struct {
	cfg      config.BotConfig
	log      *zap.Logger
	agg      *market.Aggregator
	advisor  advisory.Advisory
	executor exec.Executor
	manager  *position.Manager
	tracker  *strategy.DirectionTracker
	store    state.Store
	metrics  *metrics.Metrics
	alerts   *alerts.Telegram
	audit    *timescale.Writer
	params   strategy.Params
	margin   position.MarginParams

	cycle     int64
	equityUSD float64
	open      []*position.Position
	now       func() time.Time
}

type Deps struct {
	Aggregator *market.Aggregator
	Advisor    advisory.Advisory
	Executor   exec.Executor
	Store      state.Store
	Metrics    *metrics.Metrics
	Alerts     *alerts.Telegram
	Audit      *timescale.Writer
}

func New(cfg config.BotConfig, deps Deps, log *zap.Logger) *Engine {
	advisor := deps.Advisor
	if advisor == nil {
		advisor = advisory.Unavailable()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Engine{
		cfg:      cfg,
		log:      log.With(zap.String("instrument", cfg.Instrument)),
		agg:      deps.Aggregator,
		advisor:  advisor,
		executor: deps.Executor,
		manager: position.NewManager(position.Config{
			TrailingActivationPct: cfg.Lifecycle.TrailingActivationPct,
			TrailDistancePct:      cfg.Lifecycle.TrailDistancePct,
			MaxUnrealizedLossPct:  cfg.Lifecycle.MaxUnrealizedLossPct,
			EmergencyStopPct:      cfg.Lifecycle.EmergencyStopPct,
			ProfitTargetPct:       cfg.Lifecycle.ProfitTargetPct,
			SARTriggerPct:         cfg.Lifecycle.SARTriggerPct,
			SARMinFavorablePct:    cfg.Lifecycle.SARMinFavorablePct,
			MaxHoldDuration:       cfg.Lifecycle.MaxHoldDuration,
			LongOnly:              cfg.LongOnly,
		}),
		tracker: strategy.NewDirectionTracker(strategy.TrackerConfig{
			HistorySize:     cfg.Cooldown.HistorySize,
			CooldownScans:   cfg.Cooldown.CooldownScans,
			WinRateFloor:    cfg.Cooldown.WinRateFloor,
			LossStreakLimit: cfg.Cooldown.LossStreakLimit,
			PauseDuration:   cfg.Cooldown.PauseDuration,
		}),
		store:   deps.Store,
		metrics: m,
		alerts:  deps.Alerts,
		audit:   deps.Audit,
		params: strategy.Params{
			Instrument:         cfg.Instrument,
			LongOnly:           cfg.LongOnly,
			MinConfidence:      market.Confidence(cfg.MinConfidence),
			RiskPct:            cfg.RiskPct,
			MinQuantity:        cfg.MinQuantity,
			MaxQuantity:        cfg.MaxQuantity,
			ContractMultiplier: cfg.ContractMultiplier,
			StopLossPct:        cfg.StopLossPct,
			TakeProfitPct:      cfg.TakeProfitPct,
		},
		margin: position.MarginParams{
			Leveraged:             cfg.Margin.Leveraged,
			ContractSize:          cfg.Margin.ContractSize,
			InitialMarginRate:     cfg.Margin.InitialMarginRate,
			MaintenanceMarginRate: cfg.Margin.MaintenanceMarginRate,
		},
		equityUSD: cfg.CapitalUSD,
		now:       time.Now,
	}
}

// SetRequireAdvisory gates new entries on an approving advisory verdict.
func (e *Engine) SetRequireAdvisory(required bool) {
	e.params.RequireAdvisory = required
}

func (e *Engine) Instrument() string {
	return e.cfg.Instrument
}

func (e *Engine) EquityUSD() float64 {
	return e.equityUSD
}

func (e *Engine) OpenPositionCount() int {
	return len(e.open)
}

func equityKey(instrument string) string {
	return "equity:" + instrument
}

// Restore reloads open positions, tracker state, and equity from the store.
// A cold store leaves the engine at its configured starting capital.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("restore open positions: %w", err)
	}
	e.open = e.open[:0]
	for _, pos := range positions {
		if pos.Instrument == e.cfg.Instrument {
			e.open = append(e.open, pos)
		}
	}
	snapshot, ok, err := state.LoadTrackerState(ctx, e.store, e.cfg.Instrument)
	if err != nil {
		return fmt.Errorf("restore tracker: %w", err)
	}
	if ok {
		e.tracker.Restore(snapshot)
	}
	raw, ok, err := e.store.Get(ctx, equityKey(e.cfg.Instrument))
	if err != nil {
		return fmt.Errorf("restore equity: %w", err)
	}
	if ok {
		if equity, err := strconv.ParseFloat(raw, 64); err == nil && equity > 0 {
			e.equityUSD = equity
		}
	}
	e.log.Info("engine restored",
		zap.Int("open_positions", len(e.open)),
		zap.Bool("tracker_restored", ok),
		zap.Float64("equity_usd", e.equityUSD),
	)
	return nil
}

// RunCycle executes one scan. Open positions are always managed first so
// protective exits are never starved by entry logic; new entries are skipped
// in close-only mode, while a position is held, or while the tracker's
// loss-streak pause is active. A panic anywhere in the cycle is contained to
// an ERROR result.
func (e *Engine) RunCycle(ctx context.Context, closeOnly bool) (result CycleResult) {
	e.cycle++
	result.Cycle = e.cycle
	e.metrics.CyclesRun.Inc()
	defer func() {
		if r := recover(); r != nil {
			e.metrics.CycleErrors.Inc()
			result.Outcome = OutcomeError
			result.Err = fmt.Errorf("cycle panic: %v", r)
			e.log.Error("cycle panicked", zap.Any("panic", r), zap.Int64("cycle", e.cycle))
		}
		e.persistCycle(ctx, &result)
	}()

	price, err := e.executor.CurrentPrice(ctx, e.cfg.Instrument)
	if err != nil || price <= 0 {
		e.metrics.SnapshotMisses.Inc()
		result.Outcome = OutcomeNoMarketData
		result.Err = err
		return result
	}

	result.PositionsManaged, result.PositionsClosed = e.managePositions(ctx, price, &result)

	if closeOnly || e.tracker.Paused() {
		result.Outcome = OutcomeCloseOnly
		return result
	}
	if len(e.open) > 0 {
		result.Outcome = OutcomePositionHeld
		return result
	}

	snap := e.agg.Snapshot(ctx, e.cfg.Instrument)
	if snap == nil {
		e.metrics.SnapshotMisses.Inc()
		result.Outcome = OutcomeNoMarketData
		return result
	}

	verdict := e.evaluateAdvisory(ctx, snap)
	sig := strategy.Generate(e.params, snap, verdict, e.tracker, e.cycle, e.equityUSD)
	result.Signal = sig
	if !sig.Valid() {
		result.Outcome = OutcomeNoTrade
		return result
	}
	e.metrics.SignalsGenerated.Inc()

	if e.margin.Leveraged {
		notional := position.Notional(sig.Quantity, sig.EntryPrice, e.margin.ContractSize)
		if err := position.CheckInitialMargin(notional, e.margin.InitialMarginRate, e.equityUSD); err != nil {
			e.log.Warn("entry blocked by margin", zap.Error(err))
			result.Outcome = OutcomeBlockedMargin
			result.Err = err
			return result
		}
	}

	pos, err := e.executor.Execute(ctx, sig)
	if err != nil {
		e.metrics.ExecutionFailed.Inc()
		result.Outcome = OutcomeExecutionFailed
		result.Err = err
		e.log.Error("entry execution failed", zap.Error(err))
		return result
	}
	e.open = append(e.open, pos)
	e.metrics.TradesOpened.Inc()
	if e.store != nil {
		if err := e.store.SavePosition(ctx, pos); err != nil {
			e.log.Warn("position persist failed", zap.Error(err))
		}
	}
	if e.alerts != nil {
		e.alerts.NotifyOpen(ctx, sig, pos)
	}
	e.log.Info("trade opened",
		zap.String("position_id", pos.ID),
		zap.String("side", string(pos.Side)),
		zap.Float64("quantity", pos.Quantity),
		zap.Float64("entry", pos.EntryPrice),
	)
	result.Outcome = OutcomeTradeOpened
	result.NewPosition = pos
	return result
}

func (e *Engine) managePositions(ctx context.Context, price float64, result *CycleResult) (managed, closed int) {
	var remaining []*position.Position
	for _, pos := range e.open {
		managed++
		action := e.manager.Evaluate(pos, price, e.now())
		if !action.Close {
			if action.TrailingChanged && e.store != nil {
				if err := e.store.UpdateTrailing(ctx, pos); err != nil {
					e.log.Warn("trailing persist failed", zap.Error(err))
				}
			}
			remaining = append(remaining, pos)
			continue
		}
		if !e.closePosition(ctx, pos, action) {
			remaining = append(remaining, pos)
			continue
		}
		closed++
		if action.Reverse {
			if reversed := e.reverse(ctx, pos, price, result); reversed != nil {
				remaining = append(remaining, reversed)
			}
		}
	}
	e.open = remaining
	return managed, closed
}

func (e *Engine) closePosition(ctx context.Context, pos *position.Position, action position.Action) bool {
	res, err := e.executor.Close(ctx, pos, action.ExitPrice, action.Reason, action.Status)
	if err != nil {
		e.metrics.ExecutionFailed.Inc()
		e.log.Error("exit execution failed",
			zap.String("position_id", pos.ID),
			zap.String("reason", string(action.Reason)),
			zap.Error(err),
		)
		return false
	}
	e.metrics.TradesClosed.Inc()
	e.equityUSD += res.RealizedPnL
	dir := strategy.Long
	if pos.Side == position.SideShort {
		dir = strategy.Short
	}
	e.tracker.RecordTrade(dir, pos.Won(), e.cycle)
	if e.store != nil {
		if err := e.store.ClosePosition(ctx, pos); err != nil {
			e.log.Warn("close persist failed", zap.Error(err))
		}
	}
	if e.alerts != nil {
		e.alerts.NotifyClose(ctx, pos)
	}
	e.log.Info("trade closed",
		zap.String("position_id", pos.ID),
		zap.String("reason", string(pos.CloseReason)),
		zap.Float64("fill", res.FillPrice),
		zap.Float64("realized_pnl", res.RealizedPnL),
		zap.Float64("equity_usd", e.equityUSD),
	)
	return true
}

// reverse opens the opposite side after a stop-and-reverse close, reusing
// the closed position's size.
func (e *Engine) reverse(ctx context.Context, closed *position.Position, price float64, result *CycleResult) *position.Position {
	dir := strategy.Short
	if closed.Side == position.SideShort {
		dir = strategy.Long
	}
	// The replacement opens with emergency-width protective levels on both
	// sides: the flip already absorbed one stop-out, so the new position
	// gets the widest configured room.
	widthPct := e.cfg.Lifecycle.EmergencyStopPct
	if widthPct <= 0 {
		widthPct = 0.05
	}
	// No MinConfidence gate here: the flip is mandated by the lifecycle
	// rule, not screened like a fresh entry.
	sig := strategy.Signal{
		Instrument: e.cfg.Instrument,
		Direction:  dir,
		Confidence: market.ConfidenceMedium,
		Reason:     "STOP_AND_REVERSE",
		EntryPrice: price,
		Quantity:   closed.Quantity,
		Multiplier: closed.ContractMultiplier,
		Cycle:      e.cycle,
	}
	if dir == strategy.Long {
		sig.StopLoss = price * (1 - widthPct)
		sig.TakeProfit = price * (1 + widthPct)
	} else {
		sig.StopLoss = price * (1 + widthPct)
		sig.TakeProfit = price * (1 - widthPct)
	}
	pos, err := e.executor.Execute(ctx, sig)
	if err != nil {
		e.metrics.ExecutionFailed.Inc()
		e.log.Error("reverse execution failed", zap.Error(err))
		return nil
	}
	e.metrics.TradesOpened.Inc()
	e.metrics.TradesReversed.Inc()
	if e.store != nil {
		if err := e.store.SavePosition(ctx, pos); err != nil {
			e.log.Warn("position persist failed", zap.Error(err))
		}
	}
	if e.alerts != nil {
		e.alerts.NotifyOpen(ctx, sig, pos)
	}
	e.log.Info("position reversed",
		zap.String("closed_id", closed.ID),
		zap.String("new_id", pos.ID),
		zap.String("side", string(pos.Side)),
	)
	result.NewPosition = pos
	return pos
}

func (e *Engine) evaluateAdvisory(ctx context.Context, snap *market.MarketSnapshot) advisory.Verdict {
	dir := string(snap.CombinedSignal)
	verdict, err := e.advisor.Evaluate(ctx, snap, dir)
	if err != nil {
		e.log.Debug("advisory unavailable", zap.Error(err))
		return advisory.Verdict{Decision: advisory.DecisionUnavailable}
	}
	return verdict
}

// persistCycle saves tracker and equity state and emits the audit rows. Runs
// on every cycle, including errored ones.
func (e *Engine) persistCycle(ctx context.Context, result *CycleResult) {
	if e.store != nil {
		if err := state.SaveTrackerState(ctx, e.store, e.cfg.Instrument, e.tracker.State()); err != nil {
			e.log.Warn("tracker persist failed", zap.Error(err))
		}
		if err := e.store.Set(ctx, equityKey(e.cfg.Instrument), strconv.FormatFloat(e.equityUSD, 'f', -1, 64)); err != nil {
			e.log.Warn("equity persist failed", zap.Error(err))
		}
	}
	if e.audit == nil {
		return
	}
	activity := timescale.ScanActivity{
		Time:            e.now(),
		Instrument:      e.cfg.Instrument,
		Cycle:           result.Cycle,
		Outcome:         string(result.Outcome),
		Direction:       string(result.Signal.Direction),
		Reason:          result.Signal.Reason,
		EntryPrice:      result.Signal.EntryPrice,
		Quantity:        result.Signal.Quantity,
		PositionsOpen:   len(e.open),
		PositionsClosed: result.PositionsClosed,
	}
	if snap := result.Signal.Snapshot; snap != nil {
		activity.CombinedSignal = string(snap.CombinedSignal)
		activity.Confidence = string(snap.CombinedConfidence)
		activity.FundingRegime = string(snap.FundingRegime)
		activity.SqueezeRisk = string(snap.SqueezeRisk)
		activity.SpotPrice = snap.SpotPrice
		if snap.Funding != nil {
			activity.FundingRate = snap.Funding.Rate
		}
		activity.MaxPainStrike = snap.MaxPain
		if snap.Gamma != nil {
			activity.NetGEX = snap.Gamma.NetGEX
		}
	}
	e.audit.EnqueueScan(activity)

	openNotional := 0.0
	for _, pos := range e.open {
		openNotional += position.Notional(pos.Quantity, pos.EntryPrice, e.margin.ContractSize)
	}
	e.audit.EnqueueEquity(timescale.EquitySnapshot{
		Time:          e.now(),
		Instrument:    e.cfg.Instrument,
		EquityUSD:     e.equityUSD,
		RealizedPnL:   e.equityUSD - e.cfg.CapitalUSD,
		OpenNotional:  openNotional,
		OpenPositions: len(e.open),
	})
}
