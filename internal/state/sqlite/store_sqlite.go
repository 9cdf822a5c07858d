package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deriv-fusion-bot/internal/position"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS positions (
		id TEXT PRIMARY KEY,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		high_water_mark REAL NOT NULL,
		trailing_active INTEGER NOT NULL,
		current_stop REAL NOT NULL,
		contract_multiplier REAL NOT NULL,
		status TEXT NOT NULL,
		opened_at_ms INTEGER NOT NULL,
		closed_at_ms INTEGER NOT NULL DEFAULT 0,
		close_price REAL NOT NULL DEFAULT 0,
		close_reason TEXT NOT NULL DEFAULT '',
		realized_pnl REAL NOT NULL DEFAULT 0
	)`)
	return err
}

func (s *Store) SavePosition(ctx context.Context, pos *position.Position) error {
	if pos == nil {
		return errors.New("nil position")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO positions (
		id, instrument, side, quantity, entry_price, stop_loss, take_profit,
		high_water_mark, trailing_active, current_stop, contract_multiplier,
		status, opened_at_ms, closed_at_ms, close_price, close_reason, realized_pnl
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(id) DO UPDATE SET
		high_water_mark = excluded.high_water_mark,
		trailing_active = excluded.trailing_active,
		current_stop = excluded.current_stop,
		status = excluded.status,
		closed_at_ms = excluded.closed_at_ms,
		close_price = excluded.close_price,
		close_reason = excluded.close_reason,
		realized_pnl = excluded.realized_pnl`,
		pos.ID, pos.Instrument, string(pos.Side), pos.Quantity, pos.EntryPrice,
		pos.StopLoss, pos.TakeProfit, pos.HighWaterMark, boolInt(pos.TrailingActive),
		pos.CurrentStop, pos.ContractMultiplier, string(pos.Status),
		pos.OpenedAt.UnixMilli(), closedAtMS(pos), pos.ClosePrice,
		string(pos.CloseReason), pos.RealizedPnL,
	)
	return err
}

func (s *Store) UpdateTrailing(ctx context.Context, pos *position.Position) error {
	if pos == nil {
		return errors.New("nil position")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET high_water_mark = ?, trailing_active = ?, current_stop = ? WHERE id = ?`,
		pos.HighWaterMark, boolInt(pos.TrailingActive), pos.CurrentStop, pos.ID,
	)
	return err
}

func (s *Store) ClosePosition(ctx context.Context, pos *position.Position) error {
	if pos == nil {
		return errors.New("nil position")
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE positions SET status = ?, closed_at_ms = ?, close_price = ?, close_reason = ?, realized_pnl = ?
		 WHERE id = ? AND status = ?`,
		string(pos.Status), closedAtMS(pos), pos.ClosePrice, string(pos.CloseReason),
		pos.RealizedPnL, pos.ID, string(position.StatusOpen),
	)
	return err
}

func (s *Store) OpenPositions(ctx context.Context) ([]*position.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY opened_at_ms`,
		string(position.StatusOpen),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *Store) ClosedTrades(ctx context.Context, instrument string, limit int) ([]*position.Position, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE instrument = ? AND status != ? ORDER BY closed_at_ms DESC LIMIT ?`,
		instrument, string(position.StatusOpen), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const positionColumns = `id, instrument, side, quantity, entry_price, stop_loss, take_profit,
	high_water_mark, trailing_active, current_stop, contract_multiplier,
	status, opened_at_ms, closed_at_ms, close_price, close_reason, realized_pnl`

func scanPositions(rows *sql.Rows) ([]*position.Position, error) {
	var out []*position.Position
	for rows.Next() {
		var pos position.Position
		var side, status, reason string
		var trailing int
		var openedMS, closedMS int64
		if err := rows.Scan(
			&pos.ID, &pos.Instrument, &side, &pos.Quantity, &pos.EntryPrice,
			&pos.StopLoss, &pos.TakeProfit, &pos.HighWaterMark, &trailing,
			&pos.CurrentStop, &pos.ContractMultiplier, &status, &openedMS,
			&closedMS, &pos.ClosePrice, &reason, &pos.RealizedPnL,
		); err != nil {
			return nil, err
		}
		pos.Side = position.Side(side)
		pos.Status = position.Status(status)
		pos.CloseReason = position.CloseReason(reason)
		pos.TrailingActive = trailing != 0
		pos.OpenedAt = time.UnixMilli(openedMS)
		if closedMS > 0 {
			pos.ClosedAt = time.UnixMilli(closedMS)
		}
		out = append(out, &pos)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func closedAtMS(pos *position.Position) int64 {
	if pos.ClosedAt.IsZero() {
		return 0
	}
	return pos.ClosedAt.UnixMilli()
}
