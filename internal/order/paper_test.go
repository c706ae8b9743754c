package order

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticPrices map[string]float64

func (s staticPrices) Mark(symbol string) (float64, bool) {
	p, ok := s[symbol]
	return p, ok
}

func TestPaperMarketFillWithSlippageAndFee(t *testing.T) {
	p := NewPaperBroker(PaperConfig{SlippageBps: 10, FeeRate: 0.001}, staticPrices{"BTCUSDT": 1000}, nil)

	buy, err := p.Execute(context.Background(), Order{ID: "a", Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Quantity: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if buy.Quantity != 2 || buy.Price != 1001 || buy.Fee != 2.002 {
		t.Fatalf("unexpected buy execution %+v", buy)
	}
	sell, _ := p.Execute(context.Background(), Order{ID: "b", Symbol: "BTCUSDT", Side: SideSell, Type: TypeMarket, Quantity: 1})
	if sell.Price != 999 {
		t.Fatalf("sell price=%v, expected 999", sell.Price)
	}
}

func TestPaperMarketWithoutPrice(t *testing.T) {
	p := NewPaperBroker(PaperConfig{}, staticPrices{}, nil)
	if _, err := p.Execute(context.Background(), Order{Symbol: "NEW", Side: SideBuy, Type: TypeMarket, Quantity: 1}); err == nil {
		t.Fatalf("expected error without reference price")
	}
}

func TestPaperStopLimitTriggersIntoLimit(t *testing.T) {
	p := NewPaperBroker(PaperConfig{}, staticPrices{"ETHUSDT": 100}, nil)
	o := Order{ID: "s", Symbol: "ETHUSDT", Side: SideBuy, Type: TypeStopLimit, Quantity: 1, StopPrice: 110, LimitPrice: 111}
	ex, err := p.Execute(context.Background(), o)
	if err != nil || ex.Quantity != 0 {
		t.Fatalf("stop-limit should rest: %+v err=%v", ex, err)
	}

	// triggered but above the limit: converts to a resting limit
	if got := p.Match("ETHUSDT", 115); len(got) != 0 {
		t.Fatalf("unexpected fills %v", got)
	}
	if r := p.Resting(); len(r) != 1 || r[0].Type != TypeLimit {
		t.Fatalf("resting=%v, expected converted limit", r)
	}
	got := p.Match("ETHUSDT", 111)
	if len(got) != 1 || got[0].Price != 111 {
		t.Fatalf("fills=%v, expected one at 111", got)
	}
}

func TestPaperStopFillsAtSlippedPrice(t *testing.T) {
	p := NewPaperBroker(PaperConfig{SlippageBps: 100}, staticPrices{"ETHUSDT": 100}, nil)
	_, _ = p.Execute(context.Background(), Order{ID: "x", Symbol: "ETHUSDT", Side: SideSell, Type: TypeStop, Quantity: 1, StopPrice: 90})
	if got := p.Match("ETHUSDT", 95); len(got) != 0 {
		t.Fatalf("stop triggered early: %v", got)
	}
	got := p.Match("ETHUSDT", 90)
	if len(got) != 1 || got[0].Price != 89.1 {
		t.Fatalf("fills=%v, expected one at 89.1", got)
	}
}

func TestPaperLatencyHonoursContext(t *testing.T) {
	p := NewPaperBroker(PaperConfig{Latency: time.Second}, staticPrices{"BTCUSDT": 1}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := p.Execute(ctx, Order{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Quantity: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, expected deadline exceeded", err)
	}
}
