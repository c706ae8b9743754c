package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/events"
)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	SlippageBps float64       // applied against the taker on market fills
	FeeRate     float64       // decimal, e.g. 0.0004 = 4 bps
	Latency     time.Duration // simulated round trip
}

// PaperBroker simulates a venue deterministically: market orders fill in full
// at the mark adjusted for slippage, marketable limits fill at the mark, and
// everything else rests until Match sees a crossing price.
type PaperBroker struct {
	cfg    PaperConfig
	prices PriceSource
	log    *zap.SugaredLogger

	// Fail, when set, is consulted before every Execute and Cancel.
	Fail func(o Order) error

	mu      sync.Mutex
	resting map[string]Order
}

// NewPaperBroker creates a simulated venue reading marks from prices.
func NewPaperBroker(cfg PaperConfig, prices PriceSource, log *zap.SugaredLogger) *PaperBroker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &PaperBroker{cfg: cfg, prices: prices, log: log, resting: make(map[string]Order)}
}

func (p *PaperBroker) Execute(ctx context.Context, o Order) (Execution, error) {
	if err := p.wait(ctx); err != nil {
		return Execution{}, err
	}
	if p.Fail != nil {
		if err := p.Fail(o); err != nil {
			return Execution{}, err
		}
	}

	mark, hasMark := p.prices.Mark(o.Symbol)
	venueID := "paper-" + uuid.NewString()

	switch o.Type {
	case TypeMarket:
		ref := mark
		if !hasMark {
			ref = o.LimitPrice
		}
		if ref <= 0 {
			return Execution{}, fmt.Errorf("paper: no reference price for %s", o.Symbol)
		}
		return p.fillAt(o, o.RemainingQty(), p.slipped(ref, o.Side), venueID), nil
	case TypeLimit:
		if hasMark && marketable(o.Side, mark, o.LimitPrice) {
			return p.fillAt(o, o.RemainingQty(), mark, venueID), nil
		}
	}
	p.rest(o)
	return Execution{VenueOrderID: venueID}, nil
}

func (p *PaperBroker) Cancel(ctx context.Context, o Order) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	if p.Fail != nil {
		if err := p.Fail(o); err != nil {
			return err
		}
	}
	p.mu.Lock()
	delete(p.resting, o.ID)
	p.mu.Unlock()
	return nil
}

func (p *PaperBroker) Restore(o Order) {
	if !o.Status.IsTerminal() && o.Status != StatusPending {
		p.rest(o)
	}
}

// Resting returns working orders sorted by creation time.
func (p *PaperBroker) Resting() []Order {
	p.mu.Lock()
	out := make([]Order, 0, len(p.resting))
	for _, o := range p.resting {
		out = append(out, o)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MatchFill is a resting order executed by Match.
type MatchFill struct {
	OrderID string
	Execution
}

// Match executes resting orders on symbol that price crosses. Triggered
// stop-limits that are not marketable keep resting as limits.
func (p *PaperBroker) Match(symbol string, price float64) []MatchFill {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []MatchFill
	for id, o := range p.resting {
		if o.Symbol != symbol {
			continue
		}
		var fillPrice float64
		switch o.Type {
		case TypeLimit:
			if marketable(o.Side, price, o.LimitPrice) {
				fillPrice = o.LimitPrice
			}
		case TypeStop:
			if triggered(o.Side, price, o.StopPrice) {
				fillPrice = p.slipped(price, o.Side)
			}
		case TypeStopLimit:
			if triggered(o.Side, price, o.StopPrice) {
				if marketable(o.Side, price, o.LimitPrice) {
					fillPrice = o.LimitPrice
				} else {
					o.Type = TypeLimit
					p.resting[id] = o
				}
			}
		}
		if fillPrice <= 0 {
			continue
		}
		delete(p.resting, id)
		out = append(out, MatchFill{OrderID: id, Execution: p.fillAt(o, o.RemainingQty(), fillPrice, "")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// FillReporter receives fills for resting orders.
type FillReporter interface {
	ApplyFill(ctx context.Context, id string, qty, price, fee float64) (Order, error)
}

// Run matches resting orders against market data until sub closes or ctx ends.
func (p *PaperBroker) Run(ctx context.Context, sub *events.Subscription, report FillReporter) {
	sub.Range(ctx, func(ev events.Event) {
		md, ok := ev.MarketData()
		if !ok {
			return
		}
		for _, f := range p.Match(md.Symbol, md.Price) {
			if _, err := report.ApplyFill(ctx, f.OrderID, f.Quantity, f.Price, f.Fee); err != nil {
				p.log.Warnw("paper: report fill failed", "order_id", f.OrderID, "error", err)
			}
		}
	})
}

func (p *PaperBroker) rest(o Order) {
	p.mu.Lock()
	p.resting[o.ID] = o
	p.mu.Unlock()
}

func (p *PaperBroker) wait(ctx context.Context) error {
	if p.cfg.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(p.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PaperBroker) fillAt(o Order, qty, price float64, venueID string) Execution {
	px := decimal.NewFromFloat(price).Round(8)
	q := decimal.NewFromFloat(qty)
	fee := px.Mul(q).Mul(decimal.NewFromFloat(p.cfg.FeeRate)).Round(8)
	return Execution{
		Quantity:     qty,
		Price:        px.InexactFloat64(),
		Fee:          fee.InexactFloat64(),
		VenueOrderID: venueID,
	}
}

// slipped moves price against the taker by SlippageBps.
func (p *PaperBroker) slipped(price float64, side Side) float64 {
	if p.cfg.SlippageBps <= 0 {
		return price
	}
	frac := decimal.NewFromFloat(p.cfg.SlippageBps).Div(decimal.NewFromInt(10000))
	one := decimal.NewFromInt(1)
	factor := one.Add(frac)
	if side == SideSell {
		factor = one.Sub(frac)
	}
	return decimal.NewFromFloat(price).Mul(factor).Round(8).InexactFloat64()
}

func marketable(side Side, price, limit float64) bool {
	if side == SideBuy {
		return price <= limit
	}
	return price >= limit
}

func triggered(side Side, price, stop float64) bool {
	if side == SideBuy {
		return price >= stop
	}
	return price <= stop
}
