package strategy

import (
	"deriv-fusion-bot/internal/advisory"
	"deriv-fusion-bot/internal/market"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
	Wait  Direction = "WAIT"
)

// Params is the per-bot tuning for signal generation. The bot variants share
// one generator and differ only here.
type Params struct {
	Instrument         string
	LongOnly           bool
	MinConfidence      market.Confidence
	RiskPct            float64
	MinQuantity        float64
	MaxQuantity        float64
	ContractMultiplier float64
	StopLossPct        float64
	TakeProfitPct      float64
	RequireAdvisory    bool
}

// Signal is one trade decision. It is transient: the executor either acts on
// it or it is discarded with the cycle. Snapshot and Advisory carry a copy of
// every input used, for the audit trail.
type Signal struct {
	Instrument    string
	Direction     Direction
	Confidence    market.Confidence
	MinConfidence market.Confidence
	Reason        string
	Reasoning     []string
	EntryPrice    float64
	StopLoss      float64
	TakeProfit    float64
	Quantity      float64
	Multiplier    float64
	MaxRiskUSD    float64
	Cycle         int64
	Snapshot      *market.MarketSnapshot
	Advisory      advisory.Verdict
}

// Valid reports whether the executor may act on this signal. The confidence
// gate is re-checked here so a signal built outside Generate cannot skip it;
// an invalid signal always carries a WAIT reason explaining itself.
func (s Signal) Valid() bool {
	return (s.Direction == Long || s.Direction == Short) &&
		s.Quantity > 0 &&
		s.EntryPrice > 0 &&
		s.Confidence.Rank() >= s.MinConfidence.Rank()
}
