package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Order is the persisted form of an order.
type Order struct {
	ID           string
	StrategyID   string
	Symbol       string
	Side         string
	Type         string
	Qty          float64
	LimitPrice   float64
	StopPrice    float64
	FilledQty    float64
	AvgFillPrice float64
	TimeInForce  string
	Status       string
	ReasonCode   string
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Trade is one fill against an order.
type Trade struct {
	ID        int64
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Qty       float64
	Fee       float64
	CreatedAt time.Time
}

const orderColumns = `id, strategy_id, symbol, side, type, qty, limit_price, stop_price,
	filled_qty, avg_fill_price, time_in_force, status, reason_code, reason, created_at, updated_at`

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.StrategyID, o.Symbol, o.Side, o.Type, o.Qty, o.LimitPrice, o.StopPrice,
		o.FilledQty, o.AvgFillPrice, o.TimeInForce, o.Status, o.ReasonCode, o.Reason,
		toNanos(o.CreatedAt), toNanos(o.UpdatedAt),
	)
	return err
}

// UpdateOrder writes the mutable fields of an order.
func (d *Database) UpdateOrder(ctx context.Context, o Order) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, avg_fill_price = ?, reason_code = ?, reason = ?, updated_at = ?
		WHERE id = ?
	`, o.Status, o.FilledQty, o.AvgFillPrice, o.ReasonCode, o.Reason, toNanos(o.UpdatedAt), o.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOrder loads one order by id.
func (d *Database) GetOrder(ctx context.Context, id string) (Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// ListOrders returns the newest orders first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT ?`, limit)
}

// ListOrdersByStatus returns orders in any of the given statuses, oldest first.
func (d *Database) ListOrdersByStatus(ctx context.Context, statuses ...string) ([]Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	q := `SELECT ` + orderColumns + ` FROM orders WHERE status IN (?` + strings.Repeat(",?", len(statuses)-1) + `) ORDER BY created_at`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return d.queryOrders(ctx, q, args...)
}

func (d *Database) queryOrders(ctx context.Context, q string, args ...any) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var (
		o                Order
		created, updated int64
	)
	err := s.Scan(&o.ID, &o.StrategyID, &o.Symbol, &o.Side, &o.Type, &o.Qty, &o.LimitPrice, &o.StopPrice,
		&o.FilledQty, &o.AvgFillPrice, &o.TimeInForce, &o.Status, &o.ReasonCode, &o.Reason, &created, &updated)
	if err != nil {
		return Order{}, err
	}
	o.CreatedAt = fromNanos(created)
	o.UpdatedAt = fromNanos(updated)
	return o, nil
}

// CreateTrade inserts a fill row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (order_id, symbol, side, price, qty, fee, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, t.OrderID, t.Symbol, t.Side, t.Price, t.Qty, t.Fee, toNanos(t.CreatedAt))
	return err
}

// ListTrades returns the fills of one order in execution order.
func (d *Database) ListTrades(ctx context.Context, orderID string) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, price, qty, fee, created_at
		FROM trades WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var (
			t  Trade
			ts int64
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &t.Side, &t.Price, &t.Qty, &t.Fee, &ts); err != nil {
			return nil, err
		}
		t.CreatedAt = fromNanos(ts)
		res = append(res, t)
	}
	return res, rows.Err()
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().UnixNano()
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

