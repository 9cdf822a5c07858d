package position

import (
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign is the direction multiplier for P&L: price appreciation pays longs.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusExpired Status = "EXPIRED"
	StatusStopped Status = "STOPPED"
)

type CloseReason string

const (
	ReasonTrailStop      CloseReason = "TRAIL_STOP"
	ReasonMaxLoss        CloseReason = "MAX_LOSS"
	ReasonEmergencyStop  CloseReason = "EMERGENCY_STOP"
	ReasonStopAndReverse CloseReason = "STOP_AND_REVERSE"
	ReasonProfitTarget   CloseReason = "PROFIT_TARGET"
	ReasonMaxHoldExpiry  CloseReason = "MAX_HOLD_EXPIRY"
	ReasonManual         CloseReason = "MANUAL"
)

// Position is one live or settled trade. The lifecycle manager owns it
// exclusively between open and its single terminal transition; after close
// every field is frozen.
type Position struct {
	ID                 string
	Instrument         string
	Side               Side
	Quantity           float64
	EntryPrice         float64
	StopLoss           float64
	TakeProfit         float64
	HighWaterMark      float64
	TrailingActive     bool
	CurrentStop        float64
	ContractMultiplier float64
	Status             Status
	OpenedAt           time.Time
	ClosedAt           time.Time
	ClosePrice         float64
	CloseReason        CloseReason
	RealizedPnL        float64
}

// New opens a position at entry. The high-water mark starts at the entry
// price and only ever moves in the favorable direction.
func New(instrument string, side Side, quantity, entry, stopLoss, takeProfit, contractMultiplier float64, openedAt time.Time) *Position {
	if contractMultiplier <= 0 {
		contractMultiplier = 1
	}
	return &Position{
		ID:                 uuid.NewString(),
		Instrument:         instrument,
		Side:               side,
		Quantity:           quantity,
		EntryPrice:         entry,
		StopLoss:           stopLoss,
		TakeProfit:         takeProfit,
		HighWaterMark:      entry,
		ContractMultiplier: contractMultiplier,
		Status:             StatusOpen,
		OpenedAt:           openedAt,
	}
}

// Close performs the single terminal transition. Closing an already-terminal
// position is a no-op and reports false. Realized P&L is set exactly once
// here.
func (p *Position) Close(price float64, reason CloseReason, status Status, at time.Time) bool {
	if p.Status != StatusOpen {
		return false
	}
	p.Status = status
	p.ClosedAt = at
	p.ClosePrice = price
	p.CloseReason = reason
	p.RealizedPnL = (price - p.EntryPrice) * p.Quantity * p.Side.Sign() * p.ContractMultiplier
	return true
}

// Won reports whether the settled trade made money. Only meaningful after
// the terminal transition.
func (p *Position) Won() bool {
	return p.RealizedPnL > 0
}

// FavorableExcursionPct is the best move since entry, from the high-water
// mark, as a fraction of entry. Never negative.
func (p *Position) FavorableExcursionPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	excursion := (p.HighWaterMark - p.EntryPrice) / p.EntryPrice * p.Side.Sign()
	if excursion < 0 {
		return 0
	}
	return excursion
}

// AdverseExcursionPct is the current unrealized loss at price, as a positive
// fraction of entry; zero when the position is at or above water.
func (p *Position) AdverseExcursionPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	loss := (p.EntryPrice - price) / p.EntryPrice * p.Side.Sign()
	if loss < 0 {
		return 0
	}
	return loss
}
