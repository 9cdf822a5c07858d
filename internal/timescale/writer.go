package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"deriv-fusion-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// ScanActivity is one audit row per engine cycle: what the fusion read, what
// the generator decided, and what came of it.
type ScanActivity struct {
	Time            time.Time
	Instrument      string
	Cycle           int64
	Outcome         string
	CombinedSignal  string
	Confidence      string
	FundingRegime   string
	SqueezeRisk     string
	SpotPrice       float64
	FundingRate     float64
	MaxPainStrike   float64
	NetGEX          float64
	Direction       string
	Reason          string
	EntryPrice      float64
	Quantity        float64
	PositionsOpen   int
	PositionsClosed int
}

// EquitySnapshot records the paper/live account state after a cycle.
type EquitySnapshot struct {
	Time          time.Time
	Instrument    string
	EquityUSD     float64
	RealizedPnL   float64
	OpenNotional  float64
	OpenPositions int
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	scans      chan ScanActivity
	equity     chan EquitySnapshot
	started    atomic.Bool
	dropScan   atomic.Uint64
	dropEquity atomic.Uint64
}

func New(cfg config.AuditConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("audit dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		scans:  make(chan ScanActivity, queueSize),
		equity: make(chan EquitySnapshot, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueScan never blocks the trading loop; rows are dropped when the queue
// is full and the first drop is logged.
func (w *Writer) EnqueueScan(activity ScanActivity) {
	if w == nil {
		return
	}
	select {
	case w.scans <- activity:
		return
	default:
		if w.dropScan.Add(1) == 1 && w.log != nil {
			w.log.Warn("audit scan queue full")
		}
	}
}

func (w *Writer) EnqueueEquity(snapshot EquitySnapshot) {
	if w == nil {
		return
	}
	select {
	case w.equity <- snapshot:
		return
	default:
		if w.dropEquity.Add(1) == 1 && w.log != nil {
			w.log.Warn("audit equity queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case activity := <-w.scans:
			w.writeScan(ctx, activity)
		case snapshot := <-w.equity:
			w.writeEquity(ctx, snapshot)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("audit db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		cycle BIGINT NOT NULL,
		outcome TEXT NOT NULL,
		combined_signal TEXT NOT NULL,
		confidence TEXT NOT NULL,
		funding_regime TEXT NOT NULL,
		squeeze_risk TEXT NOT NULL,
		spot_price DOUBLE PRECISION NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		max_pain_strike DOUBLE PRECISION NOT NULL,
		net_gex DOUBLE PRECISION NOT NULL,
		direction TEXT NOT NULL,
		reason TEXT NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		positions_open INTEGER NOT NULL,
		positions_closed INTEGER NOT NULL
	)`, w.table("scan_activity"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		instrument TEXT NOT NULL,
		equity_usd DOUBLE PRECISION NOT NULL,
		realized_pnl DOUBLE PRECISION NOT NULL,
		open_notional DOUBLE PRECISION NOT NULL,
		open_positions INTEGER NOT NULL
	)`, w.table("equity_snapshots"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("scan_activity"))); err != nil && w.log != nil {
		w.log.Warn("scan_activity hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("equity_snapshots"))); err != nil && w.log != nil {
		w.log.Warn("equity_snapshots hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeScan(ctx context.Context, activity ScanActivity) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, cycle, outcome, combined_signal, confidence, funding_regime,
		squeeze_risk, spot_price, funding_rate, max_pain_strike, net_gex,
		direction, reason, entry_price, quantity, positions_open, positions_closed
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
	)`, w.table("scan_activity"))
	if _, err := w.db.ExecContext(ctx, query,
		activity.Time,
		activity.Instrument,
		activity.Cycle,
		activity.Outcome,
		activity.CombinedSignal,
		activity.Confidence,
		activity.FundingRegime,
		activity.SqueezeRisk,
		activity.SpotPrice,
		activity.FundingRate,
		activity.MaxPainStrike,
		activity.NetGEX,
		activity.Direction,
		activity.Reason,
		activity.EntryPrice,
		activity.Quantity,
		activity.PositionsOpen,
		activity.PositionsClosed,
	); err != nil && w.log != nil {
		w.log.Warn("audit scan insert failed", zap.Error(err))
	}
}

func (w *Writer) writeEquity(ctx context.Context, snapshot EquitySnapshot) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, instrument, equity_usd, realized_pnl, open_notional, open_positions
	) VALUES (
		$1,$2,$3,$4,$5,$6
	)`, w.table("equity_snapshots"))
	if _, err := w.db.ExecContext(ctx, query,
		snapshot.Time,
		snapshot.Instrument,
		snapshot.EquityUSD,
		snapshot.RealizedPnL,
		snapshot.OpenNotional,
		snapshot.OpenPositions,
	); err != nil && w.log != nil {
		w.log.Warn("audit equity insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
