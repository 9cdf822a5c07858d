package market

import (
	"math"
	"sort"
	"time"
)

type CombinedSignal string

const (
	SignalLong       CombinedSignal = "LONG"
	SignalShort      CombinedSignal = "SHORT"
	SignalRangeBound CombinedSignal = "RANGE_BOUND"
	SignalWait       CombinedSignal = "WAIT"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Rank orders confidence tiers so callers can gate on a configured minimum.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

type FundingRegime string

const (
	FundingExtremeLong  FundingRegime = "EXTREME_LONG"
	FundingLongHeavy    FundingRegime = "LONG_HEAVY"
	FundingBalanced     FundingRegime = "BALANCED"
	FundingShortHeavy   FundingRegime = "SHORT_HEAVY"
	FundingExtremeShort FundingRegime = "EXTREME_SHORT"
	FundingUnknown      FundingRegime = "UNKNOWN"
)

type PositioningBias string

const (
	BiasExtremeLong  PositioningBias = "EXTREME_LONG"
	BiasLongBiased   PositioningBias = "LONG_BIASED"
	BiasNeutral      PositioningBias = "NEUTRAL"
	BiasShortBiased  PositioningBias = "SHORT_BIASED"
	BiasExtremeShort PositioningBias = "EXTREME_SHORT"
	BiasUnknown      PositioningBias = "UNKNOWN"
)

type GammaRegime string

const (
	GammaPositive GammaRegime = "POSITIVE"
	GammaNegative GammaRegime = "NEGATIVE"
	GammaNeutral  GammaRegime = "NEUTRAL"
)

type GammaProxy struct {
	NetGEX    float64
	CallGEX   float64
	PutGEX    float64
	Regime    GammaRegime
	FlipPoint float64
}

type LeverageRegime string

const (
	LeverageOver     LeverageRegime = "OVERLEVERAGED"
	LeverageElevated LeverageRegime = "ELEVATED"
	LeverageNormal   LeverageRegime = "NORMAL"
	LeverageUnknown  LeverageRegime = "UNKNOWN"
)

type VolatilityRegime string

const (
	VolatilityHigh     VolatilityRegime = "HIGH"
	VolatilityElevated VolatilityRegime = "ELEVATED"
	VolatilityNormal   VolatilityRegime = "NORMAL"
	VolatilityUnknown  VolatilityRegime = "UNKNOWN"
)

type RiskLevel string

const (
	RiskHigh    RiskLevel = "HIGH"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskLow     RiskLevel = "LOW"
	RiskUnknown RiskLevel = "UNKNOWN"
)

type DirectionalBias string

const (
	DirectionalLong    DirectionalBias = "LONG"
	DirectionalShort   DirectionalBias = "SHORT"
	DirectionalNeutral DirectionalBias = "NEUTRAL"
	DirectionalUnknown DirectionalBias = "UNKNOWN"
)

// MarketSnapshot is one fused view of an instrument's microstructure at fetch
// time. Every derived field is a pure function of the raw inputs; missing raw
// inputs degrade the dependent fields instead of failing the snapshot.
type MarketSnapshot struct {
	Instrument string
	SpotPrice  float64
	Timestamp  time.Time

	Funding       *FundingRate
	FundingRegime FundingRegime

	LiquidationClusters []LiquidationCluster
	NearestLongLiq      *LiquidationCluster
	NearestShortLiq     *LiquidationCluster

	LongShort       *LongShortRatio
	PositioningBias PositioningBias

	OpenInterest map[float64]StrikeOI
	MaxPain      float64

	Gamma *GammaProxy

	LeverageRegime   LeverageRegime
	DirectionalBias  DirectionalBias
	VolatilityRegime VolatilityRegime
	SqueezeRisk      RiskLevel

	CombinedSignal     CombinedSignal
	CombinedConfidence Confidence
}

// BuildSnapshot fuses the raw feed results into a snapshot. It never fails:
// any nil input leaves the corresponding derived fields at UNKNOWN/NEUTRAL.
// spot must be > 0; the aggregator guarantees that before calling.
func BuildSnapshot(instrument string, spot float64, ts time.Time, funding *FundingRate, clusters []LiquidationCluster, ratio *LongShortRatio, oi map[float64]StrikeOI) *MarketSnapshot {
	snap := &MarketSnapshot{
		Instrument:   instrument,
		SpotPrice:    spot,
		Timestamp:    ts,
		Funding:      funding,
		LongShort:    ratio,
		OpenInterest: oi,
	}

	snap.FundingRegime = FundingUnknown
	if funding != nil {
		snap.FundingRegime = fundingRegime(funding.Rate)
	}

	snap.PositioningBias = BiasUnknown
	if ratio != nil {
		snap.PositioningBias = positioningBias(ratio.LongPct)
	}

	if len(clusters) > 0 {
		snap.LiquidationClusters = sortClusters(clusters, spot)
		snap.NearestLongLiq, snap.NearestShortLiq = nearestClusters(snap.LiquidationClusters, spot)
	}

	if len(oi) > 0 {
		snap.MaxPain = MaxPain(oi)
		gamma := gammaProxy(oi, spot)
		snap.Gamma = &gamma
	}

	snap.LeverageRegime = leverageRegime(snap.FundingRegime, snap.PositioningBias)
	snap.DirectionalBias = directionalBias(snap.FundingRegime, snap.PositioningBias)
	snap.VolatilityRegime = volatilityRegime(snap.LiquidationClusters)
	snap.SqueezeRisk = squeezeRisk(snap)
	snap.CombinedSignal, snap.CombinedConfidence = combine(snap)
	return snap
}

func sortClusters(clusters []LiquidationCluster, spot float64) []LiquidationCluster {
	out := make([]LiquidationCluster, len(clusters))
	copy(out, clusters)
	for i := range out {
		out[i].DistancePct = math.Abs(out[i].PriceLevel-spot) / spot
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DistancePct < out[j].DistancePct
	})
	return out
}

// nearestClusters picks the closest cluster on each side of spot: long
// liquidations sit below (longs get stopped out into falling prices), short
// liquidations above.
func nearestClusters(sorted []LiquidationCluster, spot float64) (longSide, shortSide *LiquidationCluster) {
	for i := range sorted {
		c := sorted[i]
		if c.PriceLevel < spot && c.LongNotional > 0 && longSide == nil {
			longSide = &sorted[i]
		}
		if c.PriceLevel > spot && c.ShortNotional > 0 && shortSide == nil {
			shortSide = &sorted[i]
		}
		if longSide != nil && shortSide != nil {
			break
		}
	}
	return longSide, shortSide
}
