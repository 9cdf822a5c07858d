package exec

import (
	"context"
	"errors"
	"time"

	"deriv-fusion-bot/internal/market"
	"deriv-fusion-bot/internal/position"
	"deriv-fusion-bot/internal/strategy"

	"go.uber.org/zap"
)

// Paper simulates fills against live feed prices. Entries pay slippage in
// the adverse direction; exits pay it on the way out too.
type Paper struct {
	feed        market.DataFeed
	slippageBps float64
	log         *zap.Logger
	now         func() time.Time
}

func NewPaper(feed market.DataFeed, slippageBps float64, log *zap.Logger) *Paper {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &Paper{
		feed:        feed,
		slippageBps: slippageBps,
		log:         log,
		now:         time.Now,
	}
}

func (p *Paper) Mode() Mode {
	return ModePaper
}

func (p *Paper) Execute(ctx context.Context, sig strategy.Signal) (*position.Position, error) {
	if !sig.Valid() {
		return nil, errors.New("signal is not executable")
	}
	side := position.SideLong
	if sig.Direction == strategy.Short {
		side = position.SideShort
	}
	fill := p.slip(sig.EntryPrice, side, true)
	pos := position.New(sig.Instrument, side, sig.Quantity, fill,
		sig.StopLoss, sig.TakeProfit, contractMultiplier(sig), p.now())
	if p.log != nil {
		p.log.Info("paper fill",
			zap.String("position_id", pos.ID),
			zap.String("instrument", pos.Instrument),
			zap.String("side", string(side)),
			zap.Float64("quantity", pos.Quantity),
			zap.Float64("fill_price", fill),
		)
	}
	return pos, nil
}

func (p *Paper) Close(ctx context.Context, pos *position.Position, price float64, reason position.CloseReason, status position.Status) (CloseResult, error) {
	if pos == nil {
		return CloseResult{}, errors.New("nil position")
	}
	fill := p.slip(price, pos.Side, false)
	if !pos.Close(fill, reason, status, p.now()) {
		return CloseResult{FillPrice: pos.ClosePrice, RealizedPnL: pos.RealizedPnL}, nil
	}
	if p.log != nil {
		p.log.Info("paper close",
			zap.String("position_id", pos.ID),
			zap.String("instrument", pos.Instrument),
			zap.String("reason", string(reason)),
			zap.Float64("fill_price", fill),
			zap.Float64("realized_pnl", pos.RealizedPnL),
		)
	}
	return CloseResult{FillPrice: fill, RealizedPnL: pos.RealizedPnL}, nil
}

func (p *Paper) CurrentPrice(ctx context.Context, instrument string) (float64, error) {
	return p.feed.SpotPrice(ctx, instrument)
}

// slip moves the fill against the trader: entries buy high and sell low,
// exits give back the same edge.
func (p *Paper) slip(price float64, side position.Side, entry bool) float64 {
	adj := price * p.slippageBps / 10000
	worse := side == position.SideLong
	if !entry {
		worse = !worse
	}
	if worse {
		return price + adj
	}
	return price - adj
}

func contractMultiplier(sig strategy.Signal) float64 {
	if sig.Multiplier > 0 {
		return sig.Multiplier
	}
	return 1
}
