package position

import "fmt"

type MarginParams struct {
	Leveraged             bool
	ContractSize          float64
	InitialMarginRate     float64
	MaintenanceMarginRate float64
}

func (m MarginParams) contractSize() float64 {
	if m.ContractSize > 0 {
		return m.ContractSize
	}
	return 1
}

// Notional is the gross exposure of qty contracts at price.
func Notional(qty, price, contractSize float64) float64 {
	if contractSize <= 0 {
		contractSize = 1
	}
	return qty * price * contractSize
}

// Leverage is gross exposure over equity; zero when equity is non-positive.
func Leverage(notionalUSD, equityUSD float64) float64 {
	if equityUSD <= 0 {
		return 0
	}
	return notionalUSD / equityUSD
}

// CheckInitialMargin verifies that the available equity alone covers the
// initial margin for a new notional exposure. The required amount must not
// be counted as part of what is available.
func CheckInitialMargin(notionalUSD, initialMarginRate, availableUSD float64) error {
	required := notionalUSD * initialMarginRate
	if required > availableUSD {
		return fmt.Errorf("insufficient margin: need %.2f USD, have %.2f USD available", required, availableUSD)
	}
	return nil
}

// LiquidationPrice solves for the price at which equity backing the position
// falls to the maintenance requirement. Returns 0 when the position cannot
// be liquidated by an adverse move (unleveraged, or the solution is not a
// positive price).
func LiquidationPrice(side Side, entry, qty, equityUSD float64, m MarginParams) float64 {
	if !m.Leveraged || qty <= 0 || entry <= 0 {
		return 0
	}
	exposure := qty * m.contractSize()
	if side == SideLong {
		denom := exposure * (1 - m.MaintenanceMarginRate)
		if denom <= 0 {
			return 0
		}
		p := (entry*exposure - equityUSD) / denom
		if p <= 0 {
			return 0
		}
		return p
	}
	denom := exposure * (1 + m.MaintenanceMarginRate)
	if denom <= 0 {
		return 0
	}
	return (equityUSD + entry*exposure) / denom
}
