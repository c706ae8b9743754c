package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Position is the net holding for one symbol.
type Position struct {
	Symbol      string
	Qty         float64
	AvgPrice    float64
	RealizedPnL float64
	UpdatedAt   time.Time
}

// DailyPnL is the realized PnL booked on one UTC day (YYYY-MM-DD).
type DailyPnL struct {
	Day       string
	Realized  float64
	UpdatedAt time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertPosition stores the latest position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	return upsertPosition(ctx, d.DB, p)
}

// SavePositionFill stores a position and the day's realized PnL together, so
// a restart never sees one without the other.
func (d *Database) SavePositionFill(ctx context.Context, p Position, day DailyPnL) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertPosition(ctx, tx, p); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO daily_pnl (day, realized, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			realized = excluded.realized,
			updated_at = excluded.updated_at
	`, day.Day, day.Realized, toNanos(day.UpdatedAt)); err != nil {
		return err
	}
	return tx.Commit()
}

// GetDailyPnL returns the realized PnL stored for day, or ErrNotFound.
func (d *Database) GetDailyPnL(ctx context.Context, day string) (DailyPnL, error) {
	var (
		r  = DailyPnL{Day: day}
		ts int64
	)
	err := d.DB.QueryRowContext(ctx,
		`SELECT realized, updated_at FROM daily_pnl WHERE day = ?`, day).Scan(&r.Realized, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return DailyPnL{}, ErrNotFound
	}
	if err != nil {
		return DailyPnL{}, err
	}
	r.UpdatedAt = fromNanos(ts)
	return r, nil
}

func upsertPosition(ctx context.Context, ex execer, p Position) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_price, realized_pnl, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			realized_pnl = excluded.realized_pnl,
			updated_at = excluded.updated_at
	`, p.Symbol, p.Qty, p.AvgPrice, p.RealizedPnL, toNanos(p.UpdatedAt))
	return err
}

// ListPositions returns all stored positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, qty, avg_price, realized_pnl, updated_at
		FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var (
			p  Position
			ts int64
		)
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice, &p.RealizedPnL, &ts); err != nil {
			return nil, err
		}
		p.UpdatedAt = fromNanos(ts)
		res = append(res, p)
	}
	return res, rows.Err()
}
