// Package market produces market data and demo signals for paper trading.
package market

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/events"
)

// MockFeed generates a seeded random walk per symbol so paper mode has marks.
type MockFeed struct {
	Bus        *events.Bus
	Symbols    []string
	StartPrice map[string]float64 // optional per-symbol start; default 100
	StepBps    float64            // max move per tick in bps; default 20
	SpreadBps  float64            // bid/ask spread in bps; default 2
	Interval   time.Duration
	Seed       int64
	Log        *zap.SugaredLogger

	rng    *rand.Rand
	prices map[string]float64
}

func (m *MockFeed) init() {
	if m.rng != nil {
		return
	}
	if m.Log == nil {
		m.Log = zap.NewNop().Sugar()
	}
	if len(m.Symbols) == 0 {
		m.Symbols = []string{"BTCUSDT"}
	}
	if m.StepBps <= 0 {
		m.StepBps = 20
	}
	if m.SpreadBps <= 0 {
		m.SpreadBps = 2
	}
	if m.Interval <= 0 {
		m.Interval = time.Second
	}
	m.rng = rand.New(rand.NewSource(m.Seed))
	m.prices = make(map[string]float64, len(m.Symbols))
	for _, s := range m.Symbols {
		p := m.StartPrice[s]
		if p <= 0 {
			p = 100
		}
		m.prices[s] = p
	}
}

// Tick advances every symbol one step and publishes the quotes. It is not
// safe for concurrent use with Run.
func (m *MockFeed) Tick() []events.MarketData {
	m.init()
	out := make([]events.MarketData, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		move := (m.rng.Float64()*2 - 1) * m.StepBps / 10000
		price := m.prices[sym] * (1 + move)
		m.prices[sym] = price
		half := price * m.SpreadBps / 20000
		md := events.MarketData{
			Symbol: sym,
			Price:  price,
			Bid:    price - half,
			Ask:    price + half,
			Volume: m.rng.Float64() * 10,
		}
		if err := m.Bus.Emit(md); err != nil {
			m.Log.Debugw("market: tick not published", "symbol", sym, "error", err)
		}
		out = append(out, md)
	}
	return out
}

// Run publishes ticks every Interval until ctx ends.
func (m *MockFeed) Run(ctx context.Context) {
	m.init()
	m.Log.Infow("market: mock feed started", "symbols", m.Symbols, "interval", m.Interval)
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Tick()
		}
	}
}
