package exec

import (
	"context"
	"fmt"

	"deriv-fusion-bot/internal/config"
	"deriv-fusion-bot/internal/market"
	"deriv-fusion-bot/internal/position"
	"deriv-fusion-bot/internal/strategy"

	"go.uber.org/zap"
)

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// CloseResult is the settled fill for a position exit.
type CloseResult struct {
	FillPrice   float64
	RealizedPnL float64
}

// Executor turns signals into positions and positions into fills. Paper and
// live implementations share this surface so the engine never knows which
// mode it is running in.
type Executor interface {
	Execute(ctx context.Context, sig strategy.Signal) (*position.Position, error)
	Close(ctx context.Context, pos *position.Position, price float64, reason position.CloseReason, status position.Status) (CloseResult, error)
	CurrentPrice(ctx context.Context, instrument string) (float64, error)
	Mode() Mode
}

// New builds the executor for the configured mode. Live execution needs an
// exchange adapter wired in by the operator; until one exists the live mode
// refuses to start rather than silently paper-trading.
func New(cfg config.ExecutionConfig, feed market.DataFeed, log *zap.Logger) (Executor, error) {
	switch Mode(cfg.Mode) {
	case ModePaper, "":
		return NewPaper(feed, cfg.SlippageBps, log), nil
	case ModeLive:
		return nil, fmt.Errorf("live execution requires an exchange adapter, none is configured")
	default:
		return nil, fmt.Errorf("unknown execution mode %q", cfg.Mode)
	}
}
