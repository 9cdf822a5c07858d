package advisory

import (
	"context"

	"deriv-fusion-bot/internal/market"
)

// Decision values an advisory can return. Anything other than approve is a
// rejection; DecisionUnavailable means no advisory ran at all.
const (
	DecisionApprove     = "APPROVE"
	DecisionReject      = "REJECT"
	DecisionLowScore    = "LOW_SCORE"
	DecisionUnavailable = "UNAVAILABLE"
)

// Verdict is the advisory capability's read on a prospective trade.
// WinProbability and Confidence are both in [0,1].
type Verdict struct {
	Decision       string
	WinProbability float64
	Confidence     float64
}

func (v Verdict) Rejected() bool {
	return v.Decision != DecisionApprove && v.Decision != DecisionUnavailable
}

// Advisory scores a prospective trade against the market snapshot. The engine
// treats its verdict as advisory-only unless configured to require approval.
type Advisory interface {
	Evaluate(ctx context.Context, snapshot *market.MarketSnapshot, direction string) (Verdict, error)
}

type unavailable struct{}

// Unavailable returns the null-object advisory used when no scorer is wired.
// Its verdict never blocks a trade.
func Unavailable() Advisory { return unavailable{} }

func (unavailable) Evaluate(context.Context, *market.MarketSnapshot, string) (Verdict, error) {
	return Verdict{Decision: DecisionUnavailable}, nil
}
