package position

import (
	"time"
)

type Config struct {
	TrailingActivationPct float64
	TrailDistancePct      float64
	MaxUnrealizedLossPct  float64
	EmergencyStopPct      float64
	ProfitTargetPct       float64
	SARTriggerPct         float64
	SARMinFavorablePct    float64
	MaxHoldDuration       time.Duration
	LongOnly              bool
}

// Action is the manager's verdict for one position on one cycle. At most one
// exit fires per cycle; when none does, only the trailing state may have
// moved.
type Action struct {
	Close           bool
	Reason          CloseReason
	Status          Status
	ExitPrice       float64
	Reverse         bool
	TrailingChanged bool
}

// Manager runs the protective state machine over open positions.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Evaluate checks one open position against the latest price. Exit rules are
// applied in fixed priority order; the first satisfied rule wins. When no
// exit fires, the trailing stop and high-water mark are advanced in place
// (favorable direction only) and the caller persists them.
func (m *Manager) Evaluate(pos *Position, price float64, now time.Time) Action {
	if pos == nil || pos.Status != StatusOpen || price <= 0 {
		return Action{}
	}
	adverse := pos.AdverseExcursionPct(price)

	// 1. Stop-and-reverse: a never-profitable position bleeding past the
	// trigger is flipped rather than merely closed.
	if !m.cfg.LongOnly && m.cfg.SARTriggerPct > 0 &&
		adverse >= m.cfg.SARTriggerPct &&
		pos.FavorableExcursionPct() < m.cfg.SARMinFavorablePct {
		return Action{
			Close:     true,
			Reason:    ReasonStopAndReverse,
			Status:    StatusStopped,
			ExitPrice: triggerPrice(pos, m.cfg.SARTriggerPct),
			Reverse:   true,
		}
	}

	// 2. Hard max-loss ceiling, independent of trailing state.
	if m.cfg.MaxUnrealizedLossPct > 0 && adverse >= m.cfg.MaxUnrealizedLossPct {
		return Action{Close: true, Reason: ReasonMaxLoss, Status: StatusStopped, ExitPrice: price}
	}

	// 3. Emergency stop: catastrophic moves only, wider than max-loss.
	if m.cfg.EmergencyStopPct > 0 && adverse >= m.cfg.EmergencyStopPct {
		return Action{Close: true, Reason: ReasonEmergencyStop, Status: StatusStopped, ExitPrice: price}
	}

	// 4. Trailing stop hit.
	if pos.TrailingActive && pos.CurrentStop > 0 && crossedStop(pos, price) {
		return Action{Close: true, Reason: ReasonTrailStop, Status: StatusStopped, ExitPrice: pos.CurrentStop}
	}

	// 5. Fixed profit target, only when configured; disabled by default to
	// let winners run.
	if m.cfg.ProfitTargetPct > 0 {
		gain := (price - pos.EntryPrice) / pos.EntryPrice * pos.Side.Sign()
		if gain >= m.cfg.ProfitTargetPct {
			return Action{Close: true, Reason: ReasonProfitTarget, Status: StatusClosed, ExitPrice: price}
		}
	}

	// 6/7. Trailing activation and ratchet off the candidate high-water mark
	// for this cycle.
	changed := false
	hwm := favorableMax(pos, price)
	if pos.EntryPrice > 0 {
		excursion := (hwm - pos.EntryPrice) / pos.EntryPrice * pos.Side.Sign()
		if !pos.TrailingActive && m.cfg.TrailingActivationPct > 0 && excursion >= m.cfg.TrailingActivationPct {
			pos.TrailingActive = true
			pos.CurrentStop = clampBreakEven(pos, trailStop(pos, hwm, m.cfg.TrailDistancePct))
			changed = true
		} else if pos.TrailingActive {
			if candidate := trailStop(pos, hwm, m.cfg.TrailDistancePct); tightens(pos, candidate) {
				pos.CurrentStop = candidate
				changed = true
			}
		}
	}

	// 8. Max-hold expiry, regardless of P&L.
	if m.cfg.MaxHoldDuration > 0 && now.Sub(pos.OpenedAt) >= m.cfg.MaxHoldDuration {
		return Action{Close: true, Reason: ReasonMaxHoldExpiry, Status: StatusExpired, ExitPrice: price}
	}

	if hwm != pos.HighWaterMark {
		pos.HighWaterMark = hwm
		changed = true
	}
	return Action{TrailingChanged: changed}
}

func triggerPrice(pos *Position, triggerPct float64) float64 {
	return pos.EntryPrice * (1 - triggerPct*pos.Side.Sign())
}

func crossedStop(pos *Position, price float64) bool {
	if pos.Side == SideLong {
		return price <= pos.CurrentStop
	}
	return price >= pos.CurrentStop
}

func favorableMax(pos *Position, price float64) float64 {
	if pos.Side == SideLong {
		if price > pos.HighWaterMark {
			return price
		}
		return pos.HighWaterMark
	}
	if price < pos.HighWaterMark {
		return price
	}
	return pos.HighWaterMark
}

func trailStop(pos *Position, hwm, distancePct float64) float64 {
	if pos.Side == SideLong {
		return hwm * (1 - distancePct)
	}
	return hwm * (1 + distancePct)
}

// clampBreakEven keeps the initial trailing stop no worse than entry.
func clampBreakEven(pos *Position, stop float64) float64 {
	if pos.Side == SideLong {
		if stop < pos.EntryPrice {
			return pos.EntryPrice
		}
		return stop
	}
	if stop > pos.EntryPrice {
		return pos.EntryPrice
	}
	return stop
}

// tightens reports whether candidate moves the stop in the favorable
// direction; the trail never loosens.
func tightens(pos *Position, candidate float64) bool {
	if pos.CurrentStop <= 0 {
		return true
	}
	if pos.Side == SideLong {
		return candidate > pos.CurrentStop
	}
	return candidate < pos.CurrentStop
}
