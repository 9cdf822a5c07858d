package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deriv-fusion-bot/internal/alerts"
	"deriv-fusion-bot/internal/config"
	"deriv-fusion-bot/internal/engine"
	"deriv-fusion-bot/internal/exec"
	"deriv-fusion-bot/internal/market"
	"deriv-fusion-bot/internal/metrics"
	"deriv-fusion-bot/internal/state/sqlite"
	"deriv-fusion-bot/internal/timescale"

	"go.uber.org/zap"
)

// App wires every component and runs the shared scan loop. Instruments are
// scanned strictly in config order, one at a time; a failing instrument
// never blocks the others.
type App struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	engines []*engine.Engine
	audit   *timescale.Writer
	alerts  *alerts.Telegram
	prom    *metrics.Prometheus

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

// New builds the app around the injected data feed. The feed is the only
// exchange-facing dependency; everything downstream of it is exchange
// agnostic.
func New(cfg *config.Config, feed market.DataFeed, log *zap.Logger) (*App, error) {
	if feed == nil {
		feed = market.UnavailableFeed()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	audit, err := timescale.New(cfg.Audit, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	executor, err := exec.New(cfg.Execution, feed, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)

	var prom *metrics.Prometheus
	m := metrics.NewNoop()
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	app := &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		audit:  audit,
		alerts: alertsClient,
		prom:   prom,
	}
	for _, bot := range cfg.Bots {
		agg := market.NewAggregator(feed, bot.SnapshotTTL, log)
		eng := engine.New(bot, engine.Deps{
			Aggregator: agg,
			Executor:   executor,
			Store:      store,
			Metrics:    m,
			Alerts:     alertsClient,
			Audit:      audit,
		}, log)
		eng.SetRequireAdvisory(cfg.Advisory.RequireApproval)
		app.engines = append(app.engines, eng)
	}
	return app, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if a.audit != nil {
		a.audit.Start(ctx)
		defer a.audit.Close()
	}
	for _, eng := range a.engines {
		if err := eng.Restore(ctx); err != nil {
			return err
		}
	}
	a.startMetricsServer(ctx)
	a.startOperator(ctx)
	a.log.Info("scan loop starting",
		zap.Int("instruments", len(a.engines)),
		zap.Duration("scan_interval", a.cfg.Scheduler.ScanInterval),
		zap.String("execution_mode", a.cfg.Execution.Mode),
	)

	ticker := time.NewTicker(a.cfg.Scheduler.ScanInterval)
	defer ticker.Stop()
	a.scanAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.scanAll(ctx)
		}
	}
}

// scanAll runs one cycle per engine, in config order. Pause mode still
// manages open positions so protective exits keep working.
func (a *App) scanAll(ctx context.Context) {
	closeOnly := a.isPaused()
	for _, eng := range a.engines {
		if ctx.Err() != nil {
			return
		}
		result := eng.RunCycle(ctx, closeOnly)
		if result.Err != nil {
			a.log.Warn("cycle finished with error",
				zap.String("instrument", eng.Instrument()),
				zap.String("outcome", string(result.Outcome)),
				zap.Error(result.Err),
			)
			continue
		}
		a.log.Debug("cycle finished",
			zap.String("instrument", eng.Instrument()),
			zap.Int64("cycle", result.Cycle),
			zap.String("outcome", string(result.Outcome)),
			zap.Int("positions_managed", result.PositionsManaged),
			zap.Int("positions_closed", result.PositionsClosed),
		)
	}
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	a.log.Info("metrics server listening", zap.String("address", a.cfg.Metrics.Address))
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}
