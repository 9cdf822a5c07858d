package market

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by feed implementations that have no data for a
// request. The aggregator treats it the same as any other fetch failure: the
// dependent derived fields degrade, the snapshot itself survives.
var ErrUnavailable = errors.New("market data unavailable")

type FundingRate struct {
	Rate           float64
	PredictedRate  float64
	AnnualizedRate float64
}

type Intensity string

const (
	IntensityLow    Intensity = "LOW"
	IntensityMedium Intensity = "MEDIUM"
	IntensityHigh   Intensity = "HIGH"
)

type LiquidationCluster struct {
	PriceLevel    float64
	LongNotional  float64
	ShortNotional float64
	Intensity     Intensity
	DistancePct   float64
}

type LongShortRatio struct {
	LongPct  float64
	ShortPct float64
	Ratio    float64
}

type StrikeOI struct {
	CallOI float64
	PutOI  float64
}

// DataFeed is the market data capability consumed by the aggregator. Every
// method is independently allowed to fail; only a missing spot price is fatal
// to a snapshot.
type DataFeed interface {
	SpotPrice(ctx context.Context, instrument string) (float64, error)
	FundingRate(ctx context.Context, instrument string) (*FundingRate, error)
	Liquidations(ctx context.Context, instrument string) ([]LiquidationCluster, error)
	LongShortRatio(ctx context.Context, instrument string) (*LongShortRatio, error)
	OpenInterest(ctx context.Context, instrument string) (map[float64]StrikeOI, error)
}

type unavailableFeed struct{}

// UnavailableFeed returns a DataFeed with no data source behind it. It stands
// in wherever a real feed has not been wired, so call sites never need
// nil checks or availability flags.
func UnavailableFeed() DataFeed { return unavailableFeed{} }

func (unavailableFeed) SpotPrice(context.Context, string) (float64, error) {
	return 0, ErrUnavailable
}

func (unavailableFeed) FundingRate(context.Context, string) (*FundingRate, error) {
	return nil, ErrUnavailable
}

func (unavailableFeed) Liquidations(context.Context, string) ([]LiquidationCluster, error) {
	return nil, ErrUnavailable
}

func (unavailableFeed) LongShortRatio(context.Context, string) (*LongShortRatio, error) {
	return nil, ErrUnavailable
}

func (unavailableFeed) OpenInterest(context.Context, string) (map[float64]StrikeOI, error) {
	return nil, ErrUnavailable
}
