package state

import (
	"context"

	"deriv-fusion-bot/internal/position"
)

// Store is the durability boundary. Open positions and tracker state must
// survive a restart; everything else the bot can rebuild from the feeds.
type Store interface {
	SavePosition(ctx context.Context, pos *position.Position) error
	UpdateTrailing(ctx context.Context, pos *position.Position) error
	ClosePosition(ctx context.Context, pos *position.Position) error
	OpenPositions(ctx context.Context) ([]*position.Position, error)
	ClosedTrades(ctx context.Context, instrument string, limit int) ([]*position.Position, error)

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
