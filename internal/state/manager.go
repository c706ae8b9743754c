// Package state keeps the in-memory portfolio: positions, cash, daily PnL and
// mark prices, mirrored to the database for restarts.
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/risk"
	"github.com/BikeshR/menorepo-sub007/pkg/cache"
	"github.com/BikeshR/menorepo-sub007/pkg/db"
)

// Position is the net holding for a symbol. Qty is signed.
type Position struct {
	Symbol      string    `json:"symbol"`
	Qty         float64   `json:"qty"`
	AvgPrice    float64   `json:"avg_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary is a point-in-time view of the whole portfolio.
type Summary struct {
	Cash          float64    `json:"cash"`
	Equity        float64    `json:"equity"`
	DailyRealized float64    `json:"daily_realized"`
	Unrealized    float64    `json:"unrealized"`
	Positions     []Position `json:"positions"`
}

// Manager keeps an in-memory view of the portfolio while persisting positions
// to the database.
type Manager struct {
	db      *db.Database
	marks   *cache.Marks
	locks   *cache.KeyedMutex
	log     *zap.SugaredLogger
	now     func() time.Time
	initial float64

	mu          sync.RWMutex
	positions   map[string]Position
	cash        float64
	day         string
	dayRealized float64
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l *zap.SugaredLogger) Option { return func(m *Manager) { m.log = l } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a portfolio starting from initialCapital in cash.
// database may be nil for a memory-only portfolio.
func NewManager(database *db.Database, initialCapital float64, opts ...Option) *Manager {
	m := &Manager{
		db:        database,
		marks:     cache.NewMarks(),
		locks:     cache.NewKeyedMutex(),
		log:       zap.NewNop().Sugar(),
		now:       time.Now,
		initial:   initialCapital,
		positions: make(map[string]Position),
		cash:      initialCapital,
	}
	for _, o := range opts {
		o(m)
	}
	m.day = m.dayKey()
	return m
}

// Load seeds positions from the database on startup and rebuilds cash from
// the initial capital, realized PnL and open cost. Realized PnL booked earlier
// today is restored so the daily loss limit survives a restart.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	rows, err := m.db.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("state: load positions: %w", err)
	}
	day := m.dayKey()
	today, err := m.db.GetDailyPnL(ctx, day)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("state: load daily pnl: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.day = day
	m.dayRealized = today.Realized
	cash := m.initial
	for _, r := range rows {
		m.positions[r.Symbol] = Position{
			Symbol:      r.Symbol,
			Qty:         r.Qty,
			AvgPrice:    r.AvgPrice,
			RealizedPnL: r.RealizedPnL,
			UpdatedAt:   r.UpdatedAt,
		}
		cash += r.RealizedPnL - r.Qty*r.AvgPrice
	}
	m.cash = cash
	m.log.Infof("state: loaded %d positions, cash=%.2f, realized today=%.2f", len(rows), cash, m.dayRealized)
	return nil
}

// Lock serializes work on one symbol. Unrelated symbols do not contend.
func (m *Manager) Lock(symbol string) func() {
	return m.locks.Lock(symbol)
}

// UpdateMark records the latest price for symbol.
func (m *Manager) UpdateMark(md events.MarketData) {
	m.marks.Set(md.Symbol, cache.Quote{Price: md.Price, Bid: md.Bid, Ask: md.Ask})
}

// Mark returns the latest known price for symbol.
func (m *Manager) Mark(symbol string) (float64, bool) {
	return m.marks.Price(symbol)
}

// Run applies market data from sub until it closes or ctx ends.
func (m *Manager) Run(ctx context.Context, sub *events.Subscription) {
	sub.Range(ctx, func(ev events.Event) {
		if md, ok := ev.MarketData(); ok {
			m.UpdateMark(md)
		}
	})
}

// ApplyFill adjusts the position for an execution and persists it.
// side is "buy" or "sell"; qty and price must be positive.
func (m *Manager) ApplyFill(ctx context.Context, symbol, side string, qty, price, fee float64) (Position, error) {
	if qty <= 0 || price <= 0 {
		return Position{}, fmt.Errorf("state: invalid fill qty=%v price=%v", qty, price)
	}
	signed := qty
	switch side {
	case "buy":
	case "sell":
		signed = -qty
	default:
		return Position{}, fmt.Errorf("state: unknown side %q", side)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDay()

	p := m.positions[symbol]
	p.Symbol = symbol
	old := p.Qty
	realized := 0.0

	switch {
	case old == 0 || sameSign(old, signed):
		newQty := old + signed
		p.AvgPrice = (math.Abs(old)*p.AvgPrice + qty*price) / math.Abs(newQty)
		p.Qty = newQty
	default:
		closed := math.Min(qty, math.Abs(old))
		realized = closed * (price - p.AvgPrice) * sign(old)
		p.Qty = old + signed
		switch {
		case p.Qty == 0:
			p.AvgPrice = 0
		case !sameSign(old, p.Qty):
			// flipped through zero; the remainder opened at this price
			p.AvgPrice = price
		}
	}
	realized -= fee
	p.RealizedPnL += realized
	p.UpdatedAt = m.now().UTC()

	if m.db != nil {
		err := m.db.SavePositionFill(ctx, db.Position{
			Symbol:      p.Symbol,
			Qty:         p.Qty,
			AvgPrice:    p.AvgPrice,
			RealizedPnL: p.RealizedPnL,
			UpdatedAt:   p.UpdatedAt,
		}, db.DailyPnL{Day: m.day, Realized: m.dayRealized + realized, UpdatedAt: p.UpdatedAt})
		if err != nil {
			return Position{}, fmt.Errorf("state: persist position %s: %w", symbol, err)
		}
	}

	m.positions[symbol] = p
	m.cash -= signed*price + fee
	m.dayRealized += realized
	m.marks.SetIfAbsent(symbol, cache.Quote{Price: price})
	return p, nil
}

// RecordFill applies an order execution to the portfolio.
func (m *Manager) RecordFill(ctx context.Context, symbol, side string, qty, price, fee float64) error {
	p, err := m.ApplyFill(ctx, symbol, side, qty, price, fee)
	if err != nil {
		return err
	}
	m.log.Debugw("state: fill applied", "symbol", symbol, "side", side, "qty", qty, "price", price, "position", p.Qty)
	return nil
}

// Position returns the current position for symbol.
func (m *Manager) Position(symbol string) Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.positions[symbol]
	p.Symbol = symbol
	return p
}

// Exposure implements risk.PortfolioReader.
func (m *Manager) Exposure(_ context.Context, symbol string) (risk.Exposure, error) {
	if symbol == "" {
		return risk.Exposure{}, errors.New("state: symbol required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.positions[symbol]
	mark, _ := m.marks.Price(symbol)
	equity, unrealized := m.valuation()
	return risk.Exposure{
		Symbol:         symbol,
		Position:       p.Qty,
		AvgPrice:       p.AvgPrice,
		MarkPrice:      mark,
		PortfolioValue: equity,
		DailyPnL:       m.realizedToday() + unrealized,
	}, nil
}

// Summary returns cash, equity and every non-flat position.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	equity, unrealized := m.valuation()
	s := Summary{
		Cash:          m.cash,
		Equity:        equity,
		DailyRealized: m.realizedToday(),
		Unrealized:    unrealized,
	}
	for _, p := range m.positions {
		if p.Qty != 0 {
			s.Positions = append(s.Positions, p)
		}
	}
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Symbol < s.Positions[j].Symbol })
	return s
}

// valuation must be called with mu held. Positions without a mark are
// valued at cost.
func (m *Manager) valuation() (equity, unrealized float64) {
	equity = m.cash
	for sym, p := range m.positions {
		if p.Qty == 0 {
			continue
		}
		price, ok := m.marks.Price(sym)
		if !ok {
			price = p.AvgPrice
		}
		equity += p.Qty * price
		unrealized += p.Qty * (price - p.AvgPrice)
	}
	return equity, unrealized
}

func (m *Manager) dayKey() string {
	return m.now().UTC().Format("2006-01-02")
}

// rollDay must be called with the write lock held.
func (m *Manager) rollDay() {
	if d := m.dayKey(); d != m.day {
		m.day = d
		m.dayRealized = 0
	}
}

func (m *Manager) realizedToday() float64 {
	if m.dayKey() != m.day {
		return 0
	}
	return m.dayRealized
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
