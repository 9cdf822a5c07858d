package market

import (
	"math"
	"sort"
)

const (
	fundingExtremeRate = 0.0010
	fundingHeavyRate   = 0.0003

	biasExtremePct = 70.0
	biasLeanPct    = 55.0

	// proximityWeight cuts off 20% away from spot.
	gammaProximitySlope = 5.0
	gammaRegimeRatio    = 0.10
	gammaMaterialRatio  = 0.30

	maxPainAnchorPct      = 0.03
	maxPainLooseAnchorPct = 0.01

	squeezeNearPct = 0.015
	squeezeFarPct  = 0.03

	volatilityNearPct = 0.03

	liqBiasTolerance = 1.25
)

func fundingRegime(rate float64) FundingRegime {
	switch {
	case rate >= fundingExtremeRate:
		return FundingExtremeLong
	case rate >= fundingHeavyRate:
		return FundingLongHeavy
	case rate <= -fundingExtremeRate:
		return FundingExtremeShort
	case rate <= -fundingHeavyRate:
		return FundingShortHeavy
	default:
		return FundingBalanced
	}
}

func positioningBias(longPct float64) PositioningBias {
	switch {
	case longPct >= biasExtremePct:
		return BiasExtremeLong
	case longPct >= biasLeanPct:
		return BiasLongBiased
	case longPct <= 100-biasExtremePct:
		return BiasExtremeShort
	case longPct <= 100-biasLeanPct:
		return BiasShortBiased
	default:
		return BiasNeutral
	}
}

// MaxPain returns the strike that minimizes aggregate option-holder payoff.
// Exact candidate-by-candidate search over the strike set; ties resolve to
// the lowest strike.
func MaxPain(oi map[float64]StrikeOI) float64 {
	if len(oi) == 0 {
		return 0
	}
	strikes := make([]float64, 0, len(oi))
	for strike := range oi {
		strikes = append(strikes, strike)
	}
	sort.Float64s(strikes)

	best := strikes[0]
	bestPain := math.Inf(1)
	for _, candidate := range strikes {
		pain := 0.0
		for _, strike := range strikes {
			levels := oi[strike]
			if strike > candidate {
				pain += (strike - candidate) * levels.PutOI
			} else if strike < candidate {
				pain += (candidate - strike) * levels.CallOI
			}
		}
		if pain < bestPain {
			bestPain = pain
			best = candidate
		}
	}
	return best
}

func proximityWeight(strike, spot float64) float64 {
	w := 1 - gammaProximitySlope*math.Abs(strike-spot)/spot
	if w < 0 {
		return 0
	}
	return w
}

// gammaProxy approximates dealer gamma exposure from the open interest
// surface. Calls contribute positive proximity-weighted OI, puts negative.
func gammaProxy(oi map[float64]StrikeOI, spot float64) GammaProxy {
	strikes := make([]float64, 0, len(oi))
	for strike := range oi {
		strikes = append(strikes, strike)
	}
	sort.Float64s(strikes)

	var callGEX, putGEX float64
	for _, strike := range strikes {
		w := proximityWeight(strike, spot)
		callGEX += oi[strike].CallOI * w
		putGEX -= oi[strike].PutOI * w
	}
	net := callGEX + putGEX
	gross := math.Abs(callGEX) + math.Abs(putGEX)

	regime := GammaNeutral
	if gross > 0 {
		switch ratio := net / gross; {
		case ratio >= gammaRegimeRatio:
			regime = GammaPositive
		case ratio <= -gammaRegimeRatio:
			regime = GammaNegative
		}
	}

	return GammaProxy{
		NetGEX:    net,
		CallGEX:   callGEX,
		PutGEX:    putGEX,
		Regime:    regime,
		FlipPoint: gammaFlipPoint(strikes, oi, spot),
	}
}

// gammaFlipPoint walks the strike ladder and returns the first strike where
// the cumulative net weighted OI changes sign. Zero when it never flips.
func gammaFlipPoint(strikes []float64, oi map[float64]StrikeOI, spot float64) float64 {
	cum := 0.0
	prevSign := 0
	for _, strike := range strikes {
		w := proximityWeight(strike, spot)
		cum += (oi[strike].CallOI - oi[strike].PutOI) * w
		sign := 0
		if cum > 0 {
			sign = 1
		} else if cum < 0 {
			sign = -1
		}
		if prevSign != 0 && sign != 0 && sign != prevSign {
			return strike
		}
		if sign != 0 {
			prevSign = sign
		}
	}
	return 0
}

func (g *GammaProxy) material() bool {
	if g == nil {
		return false
	}
	gross := math.Abs(g.CallGEX) + math.Abs(g.PutGEX)
	if gross == 0 {
		return false
	}
	return math.Abs(g.NetGEX) >= gammaMaterialRatio*gross
}

func leverageRegime(funding FundingRegime, bias PositioningBias) LeverageRegime {
	if funding == FundingUnknown && bias == BiasUnknown {
		return LeverageUnknown
	}
	score := 0
	switch funding {
	case FundingExtremeLong, FundingExtremeShort:
		score += 2
	case FundingLongHeavy, FundingShortHeavy:
		score++
	}
	switch bias {
	case BiasExtremeLong, BiasExtremeShort:
		score += 2
	case BiasLongBiased, BiasShortBiased:
		score++
	}
	switch {
	case score >= 3:
		return LeverageOver
	case score >= 2:
		return LeverageElevated
	default:
		return LeverageNormal
	}
}

// directionalBias is contrarian to crowd positioning: a long-crowded market
// biases short and vice versa. Conflicting crowd reads cancel to neutral.
func directionalBias(funding FundingRegime, bias PositioningBias) DirectionalBias {
	if funding == FundingUnknown && bias == BiasUnknown {
		return DirectionalUnknown
	}
	crowdLong := funding == FundingExtremeLong || funding == FundingLongHeavy ||
		bias == BiasExtremeLong || bias == BiasLongBiased
	crowdShort := funding == FundingExtremeShort || funding == FundingShortHeavy ||
		bias == BiasExtremeShort || bias == BiasShortBiased
	switch {
	case crowdLong && !crowdShort:
		return DirectionalShort
	case crowdShort && !crowdLong:
		return DirectionalLong
	default:
		return DirectionalNeutral
	}
}

func volatilityRegime(clusters []LiquidationCluster) VolatilityRegime {
	if len(clusters) == 0 {
		return VolatilityUnknown
	}
	sawHigh := false
	for _, c := range clusters {
		if c.Intensity == IntensityHigh && c.DistancePct <= volatilityNearPct {
			return VolatilityHigh
		}
		if c.Intensity == IntensityHigh {
			sawHigh = true
		}
		if c.Intensity == IntensityMedium && c.DistancePct <= volatilityNearPct {
			sawHigh = true
		}
	}
	if sawHigh {
		return VolatilityElevated
	}
	return VolatilityNormal
}

// squeezeRisk looks at the liquidation cluster nearest to the crowded side.
// A dense cluster close below a long-crowded market is fuel for a cascade.
func squeezeRisk(s *MarketSnapshot) RiskLevel {
	if s.FundingRegime == FundingUnknown && s.PositioningBias == BiasUnknown {
		return RiskUnknown
	}
	var cluster *LiquidationCluster
	switch directionalBias(s.FundingRegime, s.PositioningBias) {
	case DirectionalShort: // crowd is long
		cluster = s.NearestLongLiq
	case DirectionalLong: // crowd is short
		cluster = s.NearestShortLiq
	default:
		return RiskLow
	}
	if cluster == nil {
		return RiskLow
	}
	switch {
	case cluster.DistancePct <= squeezeNearPct && cluster.Intensity == IntensityHigh:
		return RiskHigh
	case cluster.DistancePct <= squeezeFarPct:
		return RiskMedium
	default:
		return RiskLow
	}
}

// liquidationBias reads clusters as liquidity magnets: the nearer, populated
// side tends to attract price.
func liquidationBias(s *MarketSnapshot) DirectionalBias {
	longSide, shortSide := s.NearestLongLiq, s.NearestShortLiq
	switch {
	case longSide == nil && shortSide == nil:
		return DirectionalNeutral
	case longSide == nil:
		return DirectionalLong
	case shortSide == nil:
		return DirectionalShort
	case shortSide.DistancePct*liqBiasTolerance < longSide.DistancePct:
		return DirectionalLong
	case longSide.DistancePct*liqBiasTolerance < shortSide.DistancePct:
		return DirectionalShort
	default:
		return DirectionalNeutral
	}
}

func contrarianFundingDirection(regime FundingRegime) CombinedSignal {
	switch regime {
	case FundingExtremeLong:
		return SignalShort
	case FundingExtremeShort:
		return SignalLong
	default:
		return ""
	}
}

func crowdAgrees(bias PositioningBias, dir CombinedSignal) bool {
	switch dir {
	case SignalShort:
		return bias == BiasExtremeLong || bias == BiasLongBiased
	case SignalLong:
		return bias == BiasExtremeShort || bias == BiasShortBiased
	default:
		return false
	}
}

// combine runs the priority ladder that fuses everything into one signal.
// Evaluated top to bottom, first match wins.
func combine(s *MarketSnapshot) (CombinedSignal, Confidence) {
	secondary := s.FundingRegime != FundingUnknown &&
		s.PositioningBias != BiasUnknown &&
		len(s.LiquidationClusters) > 0

	// 1. Full secondary data set agreeing with liquidation proximity.
	if secondary {
		if dir := contrarianFundingDirection(s.FundingRegime); dir != "" {
			liqBias := liquidationBias(s)
			agreed := (dir == SignalLong && liqBias == DirectionalLong) ||
				(dir == SignalShort && liqBias == DirectionalShort)
			if agreed || s.SqueezeRisk == RiskHigh {
				conf := ConfidenceMedium
				if s.SqueezeRisk == RiskHigh || crowdAgrees(s.PositioningBias, dir) {
					conf = ConfidenceHigh
				}
				return dir, conf
			}
		}
		if s.FundingRegime == FundingBalanced && s.PositioningBias == BiasNeutral && s.SqueezeRisk == RiskLow {
			conf := ConfidenceMedium
			if s.VolatilityRegime == VolatilityNormal {
				conf = ConfidenceHigh
			}
			return SignalRangeBound, conf
		}
	}

	// 2. Negative gamma with material exposure: max pain anchors direction.
	if s.Gamma != nil && s.Gamma.Regime == GammaNegative && s.Gamma.material() && s.MaxPain > 0 {
		switch dev := (s.SpotPrice - s.MaxPain) / s.MaxPain; {
		case dev <= -maxPainAnchorPct:
			return SignalLong, ConfidenceMedium
		case dev >= maxPainAnchorPct:
			return SignalShort, ConfidenceMedium
		}
	}

	// 3. Positive gamma pins price when nothing is primed to squeeze.
	if s.Gamma != nil && s.Gamma.Regime == GammaPositive && s.SqueezeRisk == RiskLow {
		return SignalRangeBound, ConfidenceMedium
	}

	// 4. Same max-pain anchor at a looser threshold.
	if s.MaxPain > 0 {
		switch dev := (s.SpotPrice - s.MaxPain) / s.MaxPain; {
		case dev <= -maxPainLooseAnchorPct:
			return SignalLong, ConfidenceLow
		case dev >= maxPainLooseAnchorPct:
			return SignalShort, ConfidenceLow
		}
	}

	// 5/6. Secondary-data-only fallback. An overleveraged market primed to
	// squeeze is an explicit "too dangerous to guess" state and outranks the
	// contrarian lean.
	if s.LeverageRegime == LeverageOver && s.SqueezeRisk == RiskHigh {
		return SignalWait, ConfidenceHigh
	}
	switch s.DirectionalBias {
	case DirectionalLong:
		return SignalLong, ConfidenceLow
	case DirectionalShort:
		return SignalShort, ConfidenceLow
	}

	// 7.
	return SignalWait, ConfidenceLow
}
