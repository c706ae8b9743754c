package order

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/BikeshR/menorepo-sub007/pkg/db"
)

// Store persists orders and their fills.
type Store interface {
	CreateOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, limit int) ([]Order, error)
	ListActive(ctx context.Context) ([]Order, error)
	RecordFill(ctx context.Context, o Order, ex Execution) error
}

// DBStore maps orders onto the sqlite tables.
type DBStore struct {
	db *db.Database
}

func NewDBStore(d *db.Database) *DBStore {
	return &DBStore{db: d}
}

func (s *DBStore) CreateOrder(ctx context.Context, o Order) error {
	return s.db.CreateOrder(ctx, toRow(o))
}

func (s *DBStore) UpdateOrder(ctx context.Context, o Order) error {
	return s.db.UpdateOrder(ctx, toRow(o))
}

func (s *DBStore) GetOrder(ctx context.Context, id string) (Order, error) {
	row, err := s.db.GetOrder(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	return fromRow(row), nil
}

func (s *DBStore) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	rows, err := s.db.ListOrders(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func (s *DBStore) ListActive(ctx context.Context) ([]Order, error) {
	rows, err := s.db.ListOrdersByStatus(ctx,
		string(StatusPending), string(StatusOpen), string(StatusPartiallyFilled))
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func (s *DBStore) RecordFill(ctx context.Context, o Order, ex Execution) error {
	return s.db.CreateTrade(ctx, db.Trade{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Price:     ex.Price,
		Qty:       ex.Quantity,
		Fee:       ex.Fee,
		CreatedAt: o.UpdatedAt,
	})
}

func toRow(o Order) db.Order {
	return db.Order{
		ID:           o.ID,
		StrategyID:   o.StrategyID,
		Symbol:       o.Symbol,
		Side:         string(o.Side),
		Type:         string(o.Type),
		Qty:          o.Quantity,
		LimitPrice:   o.LimitPrice,
		StopPrice:    o.StopPrice,
		FilledQty:    o.FilledQuantity,
		AvgFillPrice: o.AvgFillPrice,
		TimeInForce:  string(o.TimeInForce),
		Status:       string(o.Status),
		ReasonCode:   o.ReasonCode,
		Reason:       o.Reason,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func fromRow(r db.Order) Order {
	return Order{
		ID:             r.ID,
		StrategyID:     r.StrategyID,
		Symbol:         r.Symbol,
		Side:           Side(r.Side),
		Type:           Type(r.Type),
		Quantity:       r.Qty,
		LimitPrice:     r.LimitPrice,
		StopPrice:      r.StopPrice,
		FilledQuantity: r.FilledQty,
		AvgFillPrice:   r.AvgFillPrice,
		TimeInForce:    TimeInForce(r.TimeInForce),
		Status:         Status(r.Status),
		ReasonCode:     r.ReasonCode,
		Reason:         r.Reason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func fromRows(rows []db.Order) []Order {
	out := make([]Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out
}

// MemoryStore keeps orders in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
	fills  map[string][]Execution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order), fills: make(map[string][]Execution)}
}

func (m *MemoryStore) CreateOrder(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return errors.New("order already exists: " + o.ID)
	}
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) UpdateOrder(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, limit int) ([]Order, error) {
	m.mu.RLock()
	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListActive(_ context.Context) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Order
	for _, o := range m.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RecordFill(_ context.Context, o Order, ex Execution) error {
	m.mu.Lock()
	m.fills[o.ID] = append(m.fills[o.ID], ex)
	m.mu.Unlock()
	return nil
}

// Fills returns the executions recorded for an order.
func (m *MemoryStore) Fills(id string) []Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Execution(nil), m.fills[id]...)
}
