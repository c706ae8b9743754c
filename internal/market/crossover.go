package market

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/events"
)

// Crossover is a demo signal producer: it emits a buy when the fast moving
// average crosses above the slow one and a sell on the opposite cross.
// Confidence grows with the gap between the averages.
type Crossover struct {
	ID         string
	FastPeriod int
	SlowPeriod int
	Size       float64
	Bus        *events.Bus
	Log        *zap.SugaredLogger

	series map[string]*crossState
}

type crossState struct {
	prices     []float64
	fast, slow float64
	last       events.SignalAction
}

// OnPrice feeds one price and returns the signal it produced, if any.
func (c *Crossover) OnPrice(symbol string, price float64) (events.Signal, bool) {
	if c.series == nil {
		c.series = make(map[string]*crossState)
	}
	st := c.series[symbol]
	if st == nil {
		st = &crossState{prices: make([]float64, 0, c.SlowPeriod), last: events.ActionHold}
		c.series[symbol] = st
	}
	st.prices = append(st.prices, price)
	if len(st.prices) > c.SlowPeriod {
		st.prices = st.prices[1:]
	}
	if len(st.prices) < c.SlowPeriod {
		return events.Signal{}, false
	}

	oldFast, oldSlow := st.fast, st.slow
	st.fast = average(st.prices, c.FastPeriod)
	st.slow = average(st.prices, c.SlowPeriod)
	if oldSlow == 0 {
		// first full window only seeds the averages
		return events.Signal{}, false
	}

	var action events.SignalAction
	switch {
	case oldFast <= oldSlow && st.fast > st.slow:
		action = events.ActionBuy
	case oldFast >= oldSlow && st.fast < st.slow:
		action = events.ActionSell
	default:
		return events.Signal{}, false
	}
	if action == st.last {
		return events.Signal{}, false
	}
	st.last = action

	gapBps := math.Abs(st.fast-st.slow) / st.slow * 10000
	return events.Signal{
		StrategyID: c.ID,
		Symbol:     symbol,
		Action:     action,
		Confidence: math.Min(1, 0.5+gapBps/20),
		Quantity:   c.Size,
		Price:      price,
		Note:       fmt.Sprintf("MA%d(%.2f) vs MA%d(%.2f)", c.FastPeriod, st.fast, c.SlowPeriod, st.slow),
	}, true
}

// Run consumes market data from sub and publishes signals until sub closes
// or ctx ends.
func (c *Crossover) Run(ctx context.Context, sub *events.Subscription) {
	log := c.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	sub.Range(ctx, func(ev events.Event) {
		md, ok := ev.MarketData()
		if !ok {
			return
		}
		sig, ok := c.OnPrice(md.Symbol, md.Price)
		if !ok {
			return
		}
		if err := c.Bus.Emit(sig); err != nil {
			log.Debugw("market: signal not published", "symbol", sig.Symbol, "error", err)
			return
		}
		log.Infow("market: crossover signal", "symbol", sig.Symbol, "action", sig.Action, "confidence", sig.Confidence)
	})
}

func average(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}
