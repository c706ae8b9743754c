package state

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/risk"
	"github.com/BikeshR/menorepo-sub007/pkg/db"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestApplyFillPositionMath(t *testing.T) {
	m := NewManager(nil, 10000)
	ctx := context.Background()

	steps := []struct {
		side        string
		qty, price  float64
		wantQty     float64
		wantAvg     float64
		wantRealize float64
	}{
		{"buy", 10, 100, 10, 100, 0},
		{"buy", 10, 110, 20, 105, 0},
		{"sell", 5, 125, 15, 105, 100},
		{"sell", 20, 95, -5, 95, 100 - 150},
		{"buy", 5, 90, 0, 0, 100 - 150 + 25},
	}
	for i, s := range steps {
		p, err := m.ApplyFill(ctx, "BTCUSDT", s.side, s.qty, s.price, 0)
		if err != nil {
			t.Fatalf("step %d: ApplyFill: %v", i, err)
		}
		if !almost(p.Qty, s.wantQty) || !almost(p.AvgPrice, s.wantAvg) || !almost(p.RealizedPnL, s.wantRealize) {
			t.Fatalf("step %d: got qty=%v avg=%v realized=%v, expected %v/%v/%v",
				i, p.Qty, p.AvgPrice, p.RealizedPnL, s.wantQty, s.wantAvg, s.wantRealize)
		}
	}
	// flat again: cash equals initial capital plus realized PnL
	if got := m.Summary().Cash; !almost(got, 10000-25) {
		t.Fatalf("cash=%v, expected %v", got, 10000-25.0)
	}
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	m := NewManager(nil, 0)
	if _, err := m.ApplyFill(context.Background(), "X", "buy", 0, 1, 0); err == nil {
		t.Fatalf("zero qty accepted")
	}
	if _, err := m.ApplyFill(context.Background(), "X", "short", 1, 1, 0); err == nil {
		t.Fatalf("unknown side accepted")
	}
}

func TestExposureUsesMarks(t *testing.T) {
	m := NewManager(nil, 10000)
	ctx := context.Background()
	if _, err := m.ApplyFill(ctx, "ETHUSDT", "buy", 2, 1000, 0); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	m.UpdateMark(events.MarketData{Symbol: "ETHUSDT", Price: 900})

	exp, err := m.Exposure(ctx, "ETHUSDT")
	if err != nil {
		t.Fatalf("Exposure: %v", err)
	}
	if exp.Position != 2 || exp.MarkPrice != 900 || exp.AvgPrice != 1000 {
		t.Fatalf("unexpected exposure %+v", exp)
	}
	// cash 8000 + 2*900
	if !almost(exp.PortfolioValue, 9800) {
		t.Fatalf("PortfolioValue=%v, expected 9800", exp.PortfolioValue)
	}
	if !almost(exp.DailyPnL, -200) {
		t.Fatalf("DailyPnL=%v, expected -200", exp.DailyPnL)
	}
}

func TestDailyRealizedRollsOver(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	m := NewManager(nil, 1000, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_, _ = m.ApplyFill(ctx, "X", "buy", 1, 100, 0)
	_, _ = m.ApplyFill(ctx, "X", "sell", 1, 50, 0)
	if got := m.Summary().DailyRealized; got != -50 {
		t.Fatalf("DailyRealized=%v, expected -50", got)
	}
	now = now.Add(2 * time.Hour)
	if got := m.Summary().DailyRealized; got != 0 {
		t.Fatalf("DailyRealized after midnight=%v, expected 0", got)
	}
}

func TestLoadRestoresPortfolio(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	ctx := context.Background()

	m := NewManager(database, 5000)
	_, _ = m.ApplyFill(ctx, "SOLUSDT", "buy", 10, 20, 1)
	want := m.Summary()

	restored := NewManager(database, 5000)
	if err := restored.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := restored.Summary()
	if !almost(got.Cash, want.Cash) || len(got.Positions) != 1 || got.Positions[0].Qty != 10 {
		t.Fatalf("restored %+v, expected %+v", got, want)
	}
}

func TestLoadRestoresTodaysRealizedLoss(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 15, 0, 0, 0, time.UTC)
	clock := WithClock(func() time.Time { return now })

	m := NewManager(database, 100000, clock)
	if _, err := m.ApplyFill(ctx, "BTCUSDT", "buy", 1, 50000, 0); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if _, err := m.ApplyFill(ctx, "BTCUSDT", "sell", 1, 48000, 0); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	restarted := NewManager(database, 100000, clock)
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	restarted.UpdateMark(events.MarketData{Symbol: "BTCUSDT", Price: 48000})
	exp, err := restarted.Exposure(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Exposure: %v", err)
	}
	if !almost(exp.DailyPnL, -2000) {
		t.Fatalf("DailyPnL after restart=%v, expected -2000", exp.DailyPnL)
	}

	rm, err := risk.NewManager(risk.Limits{MaxDailyLoss: 1000}, restarted)
	if err != nil {
		t.Fatalf("risk.NewManager: %v", err)
	}
	dec, err := rm.Evaluate(ctx, risk.Proposal{Symbol: "BTCUSDT", Side: risk.SideBuy, Quantity: 0.01})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Approved || dec.Code != risk.ReasonDailyLossLimit {
		t.Fatalf("decision %+v, expected daily loss rejection after restart", dec)
	}

	now = now.Add(12 * time.Hour)
	nextDay := NewManager(database, 100000, clock)
	if err := nextDay.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := nextDay.Summary().DailyRealized; got != 0 {
		t.Fatalf("DailyRealized on a new day=%v, expected 0", got)
	}
}

func TestRunConsumesMarketData(t *testing.T) {
	bus := events.NewBus(events.Config{})
	sub, _ := bus.Subscribe(events.KindMarketData)
	m := NewManager(nil, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Run(context.Background(), sub)
	}()
	_ = bus.Emit(events.MarketData{Symbol: "BTCUSDT", Price: 42000})
	bus.Close()
	wg.Wait()

	if p, ok := m.Mark("BTCUSDT"); !ok || p != 42000 {
		t.Fatalf("Mark=%v ok=%v, expected 42000", p, ok)
	}
}
