package sqlite

import (
	"context"
	"testing"
	"time"

	"deriv-fusion-bot/internal/position"
)

func TestKVRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Set(ctx, "key", "value"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok, err := store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || val != "value" {
		t.Fatalf("unexpected value: %v (ok=%v)", val, ok)
	}
	if err := store.Delete(ctx, "key"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_, ok, err = store.Get(ctx, "key")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestPositionLifecyclePersistence(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	openedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	pos := position.New("BTC-PERP", position.SideLong, 2, 100, 98, 103, 1, openedAt)
	if err := store.SavePosition(ctx, pos); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.OpenPositions(ctx)
	if err != nil {
		t.Fatalf("open positions failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("open positions = %d, want 1", len(loaded))
	}
	got := loaded[0]
	if got.ID != pos.ID || got.Side != position.SideLong || got.Quantity != 2 || got.EntryPrice != 100 {
		t.Fatalf("loaded position mismatch: %+v", got)
	}
	if !got.OpenedAt.Equal(openedAt) {
		t.Fatalf("opened at = %v, want %v", got.OpenedAt, openedAt)
	}

	// Trailing updates survive a reload.
	pos.TrailingActive = true
	pos.HighWaterMark = 102
	pos.CurrentStop = 101.235
	if err := store.UpdateTrailing(ctx, pos); err != nil {
		t.Fatalf("update trailing failed: %v", err)
	}
	loaded, err = store.OpenPositions(ctx)
	if err != nil {
		t.Fatalf("open positions failed: %v", err)
	}
	got = loaded[0]
	if !got.TrailingActive || got.HighWaterMark != 102 || got.CurrentStop != 101.235 {
		t.Fatalf("trailing state lost: %+v", got)
	}

	// Close moves the row out of the open set and into the trade history.
	if !pos.Close(101.235, position.ReasonTrailStop, position.StatusStopped, openedAt.Add(time.Hour)) {
		t.Fatalf("close failed")
	}
	if err := store.ClosePosition(ctx, pos); err != nil {
		t.Fatalf("close persist failed: %v", err)
	}
	loaded, err = store.OpenPositions(ctx)
	if err != nil {
		t.Fatalf("open positions failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("open positions after close = %d, want 0", len(loaded))
	}
	trades, err := store.ClosedTrades(ctx, "BTC-PERP", 10)
	if err != nil {
		t.Fatalf("closed trades failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("closed trades = %d, want 1", len(trades))
	}
	if trades[0].CloseReason != position.ReasonTrailStop || trades[0].Status != position.StatusStopped {
		t.Fatalf("closed trade mismatch: %+v", trades[0])
	}
	if trades[0].RealizedPnL != pos.RealizedPnL {
		t.Fatalf("realized pnl = %v, want %v", trades[0].RealizedPnL, pos.RealizedPnL)
	}
}

func TestClosePositionIgnoresAlreadyClosedRow(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	openedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	pos := position.New("BTC-PERP", position.SideShort, 1, 100, 102, 97, 1, openedAt)
	if err := store.SavePosition(ctx, pos); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	pos.Close(97, position.ReasonProfitTarget, position.StatusClosed, openedAt.Add(time.Hour))
	if err := store.ClosePosition(ctx, pos); err != nil {
		t.Fatalf("close persist failed: %v", err)
	}

	// A second close write targets only OPEN rows and changes nothing.
	pos.CloseReason = position.ReasonMaxLoss
	if err := store.ClosePosition(ctx, pos); err != nil {
		t.Fatalf("second close persist errored: %v", err)
	}
	trades, err := store.ClosedTrades(ctx, "BTC-PERP", 10)
	if err != nil {
		t.Fatalf("closed trades failed: %v", err)
	}
	if trades[0].CloseReason != position.ReasonProfitTarget {
		t.Fatalf("close reason overwritten: %s", trades[0].CloseReason)
	}
}
