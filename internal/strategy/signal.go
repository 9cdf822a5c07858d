package strategy

import (
	"fmt"
	"math"

	"deriv-fusion-bot/internal/advisory"
	"deriv-fusion-bot/internal/market"
)

const (
	ReasonNoMarketData    = "NO_MARKET_DATA"
	ReasonNoDirection     = "NO_ACTIONABLE_DIRECTION"
	ReasonLongOnly        = "LONG_ONLY_SUPPRESSED_SHORT"
	ReasonQuantityTooLow  = "QUANTITY_TOO_SMALL"
	reasonBlockedAdvisory = "BLOCKED_ADVISORY_"
	reasonLowConfidence   = "LOW_CONFIDENCE_"
	reasonTrackerPrefix   = "DIRECTION_TRACKER_"

	squeezeWideningFactor = 1.5
	liqStopBufferPct      = 0.002
)

// Generate turns one market snapshot into one trade decision. Pure function
// of its inputs: no I/O, no clock, no mutation beyond the returned value.
func Generate(p Params, snap *market.MarketSnapshot, verdict advisory.Verdict, tracker *DirectionTracker, cycle int64, equityUSD float64) Signal {
	sig := Signal{
		Instrument:    p.Instrument,
		Direction:     Wait,
		MinConfidence: p.MinConfidence,
		Cycle:         cycle,
		Snapshot:      snap,
		Advisory:      verdict,
	}
	if snap == nil {
		sig.Reason = ReasonNoMarketData
		return sig
	}
	sig.Confidence = snap.CombinedConfidence
	sig.trace("combined signal %s at %s confidence", snap.CombinedSignal, snap.CombinedConfidence)

	if p.RequireAdvisory && verdict.Rejected() {
		sig.Reason = reasonBlockedAdvisory + verdict.Decision
		return sig
	}
	if snap.CombinedConfidence.Rank() < p.MinConfidence.Rank() {
		sig.Reason = reasonLowConfidence + string(snap.CombinedConfidence)
		return sig
	}

	dir := resolveDirection(snap, &sig)
	if dir == Wait {
		sig.Reason = ReasonNoDirection
		return sig
	}
	if p.LongOnly && dir == Short {
		sig.Reason = ReasonLongOnly
		sig.trace("bearish read degraded to WAIT: bot is long-only")
		return sig
	}
	if tracker != nil {
		if skip, why := tracker.ShouldSkip(dir, cycle); skip {
			sig.Reason = reasonTrackerPrefix + why
			return sig
		}
	}

	entry := snap.SpotPrice
	stop, target := ProtectiveLevels(p, snap, dir)
	qty, riskUSD := sizePosition(p, equityUSD, entry, stop)
	if qty <= 0 {
		sig.Reason = ReasonQuantityTooLow
		return sig
	}

	sig.Direction = dir
	sig.EntryPrice = entry
	sig.StopLoss = stop
	sig.TakeProfit = target
	sig.Quantity = qty
	sig.Multiplier = contractMultiplier(p)
	sig.MaxRiskUSD = riskUSD
	sig.trace("enter %s qty %.6f entry %.4f stop %.4f target %.4f risk %.2f USD",
		dir, qty, entry, stop, target, riskUSD)
	return sig
}

// resolveDirection maps the combined signal to a concrete side. RANGE_BOUND
// and WAIT inputs fall back to funding-extremity and squeeze-driven
// contrarian logic; a side is never invented without a supporting signal.
func resolveDirection(snap *market.MarketSnapshot, sig *Signal) Direction {
	switch snap.CombinedSignal {
	case market.SignalLong:
		return Long
	case market.SignalShort:
		return Short
	}
	switch snap.FundingRegime {
	case market.FundingExtremeLong:
		sig.trace("fallback: extreme long funding, fading the crowd short")
		return Short
	case market.FundingExtremeShort:
		sig.trace("fallback: extreme short funding, fading the crowd long")
		return Long
	}
	if snap.SqueezeRisk == market.RiskHigh {
		switch snap.DirectionalBias {
		case market.DirectionalLong:
			sig.trace("fallback: squeeze risk high against a short crowd")
			return Long
		case market.DirectionalShort:
			sig.trace("fallback: squeeze risk high against a long crowd")
			return Short
		}
	}
	return Wait
}

// ProtectiveLevels derives stop-loss and take-profit from the fixed
// percentages, tightened toward nearby liquidation clusters and widened
// under elevated squeeze risk.
func ProtectiveLevels(p Params, snap *market.MarketSnapshot, dir Direction) (stop, target float64) {
	stopPct := p.StopLossPct
	if stopPct <= 0 {
		stopPct = 0.02
	}
	targetPct := p.TakeProfitPct
	if targetPct <= 0 {
		targetPct = 0.03
	}
	if snap.SqueezeRisk == market.RiskHigh {
		stopPct *= squeezeWideningFactor
		targetPct *= squeezeWideningFactor
	}
	entry := snap.SpotPrice
	if dir == Long {
		stop = entry * (1 - stopPct)
		if c := snap.NearestLongLiq; c != nil && c.PriceLevel > stop && c.PriceLevel < entry {
			stop = c.PriceLevel * (1 - liqStopBufferPct)
		}
		target = entry * (1 + targetPct)
		if c := snap.NearestShortLiq; c != nil && c.PriceLevel > entry && c.PriceLevel < target {
			target = c.PriceLevel
		}
		return stop, target
	}
	stop = entry * (1 + stopPct)
	if c := snap.NearestShortLiq; c != nil && c.PriceLevel < stop && c.PriceLevel > entry {
		stop = c.PriceLevel * (1 + liqStopBufferPct)
	}
	target = entry * (1 - targetPct)
	if c := snap.NearestLongLiq; c != nil && c.PriceLevel < entry && c.PriceLevel > target {
		target = c.PriceLevel
	}
	return stop, target
}

// sizePosition risks a fixed fraction of equity over the distance to the
// stop, clamped to the configured quantity bounds. The returned risk is
// recomputed from the final quantity so clamping is reflected honestly.
func sizePosition(p Params, equityUSD, entry, stop float64) (qty, riskUSD float64) {
	dist := math.Abs(entry-stop) * contractMultiplier(p)
	if dist <= 0 || equityUSD <= 0 || p.RiskPct <= 0 {
		return 0, 0
	}
	qty = equityUSD * p.RiskPct / dist
	if p.MaxQuantity > 0 && qty > p.MaxQuantity {
		qty = p.MaxQuantity
	}
	if p.MinQuantity > 0 && qty < p.MinQuantity {
		qty = p.MinQuantity
	}
	if qty <= 0 {
		return 0, 0
	}
	return qty, qty * dist
}

func contractMultiplier(p Params) float64 {
	if p.ContractMultiplier > 0 {
		return p.ContractMultiplier
	}
	return 1
}

func (s *Signal) trace(format string, args ...any) {
	s.Reasoning = append(s.Reasoning, fmt.Sprintf(format, args...))
}
