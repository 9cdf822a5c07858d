package market

import (
	"testing"
	"time"
)

var testTS = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestSnapshotCrowdedLongMarketFadesShort(t *testing.T) {
	// Extreme positive funding, long-crowded positioning, and a dense long
	// liquidation cluster just below spot: a short squeeze setup faded at
	// high confidence.
	funding := &FundingRate{Rate: 0.0012}
	ratio := &LongShortRatio{LongPct: 74, ShortPct: 26, Ratio: 74.0 / 26.0}
	clusters := []LiquidationCluster{
		{PriceLevel: 99, LongNotional: 5_000_000, Intensity: IntensityHigh},
	}
	snap := BuildSnapshot("BTC-PERP", 100, testTS, funding, clusters, ratio, nil)

	if snap.FundingRegime != FundingExtremeLong {
		t.Fatalf("funding regime = %s, want EXTREME_LONG", snap.FundingRegime)
	}
	if snap.PositioningBias != BiasExtremeLong {
		t.Fatalf("positioning bias = %s, want EXTREME_LONG", snap.PositioningBias)
	}
	if snap.SqueezeRisk != RiskHigh {
		t.Fatalf("squeeze risk = %s, want HIGH", snap.SqueezeRisk)
	}
	if snap.CombinedSignal != SignalShort {
		t.Fatalf("combined signal = %s, want SHORT", snap.CombinedSignal)
	}
	if snap.CombinedConfidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want HIGH", snap.CombinedConfidence)
	}
}

func TestSnapshotBalancedMarketIsRangeBound(t *testing.T) {
	funding := &FundingRate{Rate: 0.0001}
	ratio := &LongShortRatio{LongPct: 51, ShortPct: 49, Ratio: 51.0 / 49.0}
	clusters := []LiquidationCluster{
		{PriceLevel: 90, LongNotional: 100_000, Intensity: IntensityLow},
		{PriceLevel: 111, ShortNotional: 100_000, Intensity: IntensityLow},
	}
	snap := BuildSnapshot("BTC-PERP", 100, testTS, funding, clusters, ratio, nil)

	if snap.FundingRegime != FundingBalanced {
		t.Fatalf("funding regime = %s, want BALANCED", snap.FundingRegime)
	}
	if snap.PositioningBias != BiasNeutral {
		t.Fatalf("positioning bias = %s, want NEUTRAL", snap.PositioningBias)
	}
	if snap.SqueezeRisk != RiskLow {
		t.Fatalf("squeeze risk = %s, want LOW", snap.SqueezeRisk)
	}
	if snap.VolatilityRegime != VolatilityNormal {
		t.Fatalf("volatility regime = %s, want NORMAL", snap.VolatilityRegime)
	}
	if snap.CombinedSignal != SignalRangeBound {
		t.Fatalf("combined signal = %s, want RANGE_BOUND", snap.CombinedSignal)
	}
	if snap.CombinedConfidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want HIGH", snap.CombinedConfidence)
	}
}

func TestSnapshotDegradesWithMissingInputs(t *testing.T) {
	snap := BuildSnapshot("ETH-PERP", 2500, testTS, nil, nil, nil, nil)
	if snap == nil {
		t.Fatalf("expected snapshot despite missing inputs")
	}
	if snap.FundingRegime != FundingUnknown {
		t.Fatalf("funding regime = %s, want UNKNOWN", snap.FundingRegime)
	}
	if snap.PositioningBias != BiasUnknown {
		t.Fatalf("positioning bias = %s, want UNKNOWN", snap.PositioningBias)
	}
	if snap.LeverageRegime != LeverageUnknown {
		t.Fatalf("leverage regime = %s, want UNKNOWN", snap.LeverageRegime)
	}
	if snap.SqueezeRisk != RiskUnknown {
		t.Fatalf("squeeze risk = %s, want UNKNOWN", snap.SqueezeRisk)
	}
	if snap.Gamma != nil {
		t.Fatalf("expected nil gamma proxy without open interest")
	}
	if snap.MaxPain != 0 {
		t.Fatalf("max pain = %v, want 0", snap.MaxPain)
	}
	if snap.CombinedSignal != SignalWait {
		t.Fatalf("combined signal = %s, want WAIT", snap.CombinedSignal)
	}
	if snap.CombinedConfidence != ConfidenceLow {
		t.Fatalf("confidence = %s, want LOW", snap.CombinedConfidence)
	}
}

func TestSnapshotGammaAnchorWithoutSecondaryData(t *testing.T) {
	// Put-heavy surface (negative gamma) with spot well below max pain pulls
	// the signal long at medium confidence.
	oi := map[float64]StrikeOI{
		100: {CallOI: 200, PutOI: 2000},
		104: {CallOI: 200, PutOI: 2000},
		108: {CallOI: 200, PutOI: 2000},
	}
	snap := BuildSnapshot("BTC-PERP", 100, testTS, nil, nil, nil, oi)
	if snap.Gamma == nil || snap.Gamma.Regime != GammaNegative {
		t.Fatalf("expected negative gamma regime, got %+v", snap.Gamma)
	}
	if snap.MaxPain <= snap.SpotPrice {
		t.Fatalf("expected max pain above spot, got %v", snap.MaxPain)
	}
	if snap.CombinedSignal != SignalLong {
		t.Fatalf("combined signal = %s, want LONG", snap.CombinedSignal)
	}
	if snap.CombinedConfidence != ConfidenceMedium {
		t.Fatalf("confidence = %s, want MEDIUM", snap.CombinedConfidence)
	}
}

func TestNearestClustersSplitBySide(t *testing.T) {
	clusters := []LiquidationCluster{
		{PriceLevel: 97, LongNotional: 1000, Intensity: IntensityLow},
		{PriceLevel: 95, LongNotional: 2000, Intensity: IntensityHigh},
		{PriceLevel: 104, ShortNotional: 1500, Intensity: IntensityMedium},
		{PriceLevel: 103, Intensity: IntensityHigh}, // no short notional, skipped
	}
	sorted := sortClusters(clusters, 100)
	longSide, shortSide := nearestClusters(sorted, 100)
	if longSide == nil || longSide.PriceLevel != 97 {
		t.Fatalf("nearest long cluster = %+v, want level 97", longSide)
	}
	if shortSide == nil || shortSide.PriceLevel != 104 {
		t.Fatalf("nearest short cluster = %+v, want level 104", shortSide)
	}
	if longSide.DistancePct != 0.03 {
		t.Fatalf("long cluster distance = %v, want 0.03", longSide.DistancePct)
	}
}

func TestSnapshotOverleveragedSqueezeWaits(t *testing.T) {
	// Overleveraged and primed to squeeze, but funding is only heavy, not
	// extreme, so the contrarian rung cannot fire: explicit WAIT at high
	// confidence.
	funding := &FundingRate{Rate: 0.0005}
	ratio := &LongShortRatio{LongPct: 72, ShortPct: 28, Ratio: 72.0 / 28.0}
	clusters := []LiquidationCluster{
		{PriceLevel: 99, LongNotional: 4_000_000, Intensity: IntensityHigh},
	}
	snap := BuildSnapshot("BTC-PERP", 100, testTS, funding, clusters, ratio, nil)

	if snap.LeverageRegime != LeverageOver {
		t.Fatalf("leverage regime = %s, want OVERLEVERAGED", snap.LeverageRegime)
	}
	if snap.SqueezeRisk != RiskHigh {
		t.Fatalf("squeeze risk = %s, want HIGH", snap.SqueezeRisk)
	}
	if snap.CombinedSignal != SignalWait {
		t.Fatalf("combined signal = %s, want WAIT", snap.CombinedSignal)
	}
	if snap.CombinedConfidence != ConfidenceHigh {
		t.Fatalf("confidence = %s, want HIGH", snap.CombinedConfidence)
	}
}
