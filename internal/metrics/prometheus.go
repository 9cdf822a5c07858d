package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "deriv_fusion_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	cyclesRun        prometheus.Counter
	cycleErrors      prometheus.Counter
	signalsGenerated prometheus.Counter
	tradesOpened     prometheus.Counter
	tradesClosed     prometheus.Counter
	tradesReversed   prometheus.Counter
	executionFailed  prometheus.Counter
	snapshotMisses   prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	cyclesRun := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycles_run_total",
		Help:      "Total number of scan cycles executed.",
	})
	cycleErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "cycle_errors_total",
		Help:      "Total number of scan cycles that ended in an error.",
	})
	signalsGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "signals_generated_total",
		Help:      "Total number of actionable entry signals generated.",
	})
	tradesOpened := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_opened_total",
		Help:      "Total number of positions opened.",
	})
	tradesClosed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_closed_total",
		Help:      "Total number of positions closed.",
	})
	tradesReversed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_reversed_total",
		Help:      "Total number of stop-and-reverse flips executed.",
	})
	executionFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "execution_failed_total",
		Help:      "Total number of order execution failures.",
	})
	snapshotMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "snapshot_misses_total",
		Help:      "Total number of cycles skipped for missing market data.",
	})

	registry.MustRegister(cyclesRun, cycleErrors, signalsGenerated, tradesOpened, tradesClosed, tradesReversed, executionFailed, snapshotMisses)

	m := &Metrics{
		CyclesRun:        promCounter{cyclesRun},
		CycleErrors:      promCounter{cycleErrors},
		SignalsGenerated: promCounter{signalsGenerated},
		TradesOpened:     promCounter{tradesOpened},
		TradesClosed:     promCounter{tradesClosed},
		TradesReversed:   promCounter{tradesReversed},
		ExecutionFailed:  promCounter{executionFailed},
		SnapshotMisses:   promCounter{snapshotMisses},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		cyclesRun:        cyclesRun,
		cycleErrors:      cycleErrors,
		signalsGenerated: signalsGenerated,
		tradesOpened:     tradesOpened,
		tradesClosed:     tradesClosed,
		tradesReversed:   tradesReversed,
		executionFailed:  executionFailed,
		snapshotMisses:   snapshotMisses,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
