package market

import (
	"math"
	"testing"
)

func TestFundingRegimeThresholds(t *testing.T) {
	cases := []struct {
		rate float64
		want FundingRegime
	}{
		{0.0015, FundingExtremeLong},
		{0.0010, FundingExtremeLong},
		{0.0005, FundingLongHeavy},
		{0.0003, FundingLongHeavy},
		{0.0001, FundingBalanced},
		{-0.0001, FundingBalanced},
		{-0.0003, FundingShortHeavy},
		{-0.0010, FundingExtremeShort},
	}
	for _, tc := range cases {
		if got := fundingRegime(tc.rate); got != tc.want {
			t.Fatalf("fundingRegime(%v) = %s, want %s", tc.rate, got, tc.want)
		}
	}
}

func TestPositioningBiasThresholds(t *testing.T) {
	cases := []struct {
		longPct float64
		want    PositioningBias
	}{
		{75, BiasExtremeLong},
		{70, BiasExtremeLong},
		{60, BiasLongBiased},
		{50, BiasNeutral},
		{40, BiasShortBiased},
		{25, BiasExtremeShort},
	}
	for _, tc := range cases {
		if got := positioningBias(tc.longPct); got != tc.want {
			t.Fatalf("positioningBias(%v) = %s, want %s", tc.longPct, got, tc.want)
		}
	}
}

func TestMaxPainMinimizesPayout(t *testing.T) {
	oi := map[float64]StrikeOI{
		90:  {CallOI: 100, PutOI: 400},
		100: {CallOI: 300, PutOI: 300},
		110: {CallOI: 500, PutOI: 100},
	}
	got := MaxPain(oi)

	// Independent recompute of the pain at each candidate.
	bestPain := math.Inf(1)
	best := 0.0
	for _, candidate := range []float64{90, 100, 110} {
		pain := 0.0
		for strike, levels := range oi {
			if strike > candidate {
				pain += (strike - candidate) * levels.PutOI
			}
			if strike < candidate {
				pain += (candidate - strike) * levels.CallOI
			}
		}
		if pain < bestPain || (pain == bestPain && candidate < best) {
			bestPain = pain
			best = candidate
		}
	}
	if got != best {
		t.Fatalf("MaxPain = %v, want %v", got, best)
	}
}

func TestMaxPainTieResolvesToLowestStrike(t *testing.T) {
	// Symmetric surface: 95 and 105 carry identical pain.
	oi := map[float64]StrikeOI{
		95:  {CallOI: 100, PutOI: 100},
		105: {CallOI: 100, PutOI: 100},
	}
	if got := MaxPain(oi); got != 95 {
		t.Fatalf("expected tie to resolve to 95, got %v", got)
	}
}

func TestMaxPainEmptySurface(t *testing.T) {
	if got := MaxPain(nil); got != 0 {
		t.Fatalf("expected 0 for empty surface, got %v", got)
	}
}

func TestProximityWeightCutoff(t *testing.T) {
	if w := proximityWeight(100, 100); w != 1 {
		t.Fatalf("at-the-money weight = %v, want 1", w)
	}
	if w := proximityWeight(110, 100); math.Abs(w-0.5) > 1e-9 {
		t.Fatalf("10%% away weight = %v, want 0.5", w)
	}
	if w := proximityWeight(130, 100); w != 0 {
		t.Fatalf("30%% away weight = %v, want 0", w)
	}
}

func TestGammaProxyRegimes(t *testing.T) {
	callHeavy := map[float64]StrikeOI{
		98:  {CallOI: 500},
		102: {CallOI: 500},
	}
	g := gammaProxy(callHeavy, 100)
	if g.Regime != GammaPositive {
		t.Fatalf("call-heavy surface regime = %s, want POSITIVE", g.Regime)
	}
	if g.NetGEX <= 0 {
		t.Fatalf("call-heavy NetGEX = %v, want > 0", g.NetGEX)
	}

	putHeavy := map[float64]StrikeOI{
		98:  {PutOI: 500},
		102: {PutOI: 500},
	}
	g = gammaProxy(putHeavy, 100)
	if g.Regime != GammaNegative {
		t.Fatalf("put-heavy surface regime = %s, want NEGATIVE", g.Regime)
	}

	balanced := map[float64]StrikeOI{
		98:  {CallOI: 500, PutOI: 500},
		102: {CallOI: 500, PutOI: 500},
	}
	g = gammaProxy(balanced, 100)
	if g.Regime != GammaNeutral {
		t.Fatalf("balanced surface regime = %s, want NEUTRAL", g.Regime)
	}
}

func TestGammaFlipPoint(t *testing.T) {
	// Put-dominated below spot, call-dominated above: cumulative net flips
	// once the call strikes outweigh the puts.
	oi := map[float64]StrikeOI{
		95:  {PutOI: 300},
		100: {CallOI: 100},
		105: {CallOI: 600},
	}
	g := gammaProxy(oi, 100)
	if g.FlipPoint != 105 {
		t.Fatalf("flip point = %v, want 105", g.FlipPoint)
	}

	noFlip := map[float64]StrikeOI{
		95:  {CallOI: 300},
		105: {CallOI: 300},
	}
	g = gammaProxy(noFlip, 100)
	if g.FlipPoint != 0 {
		t.Fatalf("flip point = %v, want 0 for monotone surface", g.FlipPoint)
	}
}

func TestLeverageRegimeScoring(t *testing.T) {
	cases := []struct {
		funding FundingRegime
		bias    PositioningBias
		want    LeverageRegime
	}{
		{FundingExtremeLong, BiasExtremeLong, LeverageOver},
		{FundingExtremeLong, BiasLongBiased, LeverageOver},
		{FundingLongHeavy, BiasLongBiased, LeverageElevated},
		{FundingExtremeShort, BiasNeutral, LeverageElevated},
		{FundingBalanced, BiasLongBiased, LeverageNormal},
		{FundingBalanced, BiasNeutral, LeverageNormal},
		{FundingUnknown, BiasUnknown, LeverageUnknown},
	}
	for _, tc := range cases {
		if got := leverageRegime(tc.funding, tc.bias); got != tc.want {
			t.Fatalf("leverageRegime(%s, %s) = %s, want %s", tc.funding, tc.bias, got, tc.want)
		}
	}
}

func TestDirectionalBiasContrarian(t *testing.T) {
	if got := directionalBias(FundingExtremeLong, BiasExtremeLong); got != DirectionalShort {
		t.Fatalf("long-crowded market bias = %s, want SHORT", got)
	}
	if got := directionalBias(FundingExtremeShort, BiasShortBiased); got != DirectionalLong {
		t.Fatalf("short-crowded market bias = %s, want LONG", got)
	}
	if got := directionalBias(FundingExtremeLong, BiasExtremeShort); got != DirectionalNeutral {
		t.Fatalf("conflicting crowd reads = %s, want NEUTRAL", got)
	}
	if got := directionalBias(FundingUnknown, BiasUnknown); got != DirectionalUnknown {
		t.Fatalf("no data = %s, want UNKNOWN", got)
	}
}
