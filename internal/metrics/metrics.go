package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesRun        Counter
	CycleErrors      Counter
	SignalsGenerated Counter
	TradesOpened     Counter
	TradesClosed     Counter
	TradesReversed   Counter
	ExecutionFailed  Counter
	SnapshotMisses   Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesRun:        n,
		CycleErrors:      n,
		SignalsGenerated: n,
		TradesOpened:     n,
		TradesClosed:     n,
		TradesReversed:   n,
		ExecutionFailed:  n,
		SnapshotMisses:   n,
	}
}
