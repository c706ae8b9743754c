package signals

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/order"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	reqs   []order.Request
	status order.Status
	err    error
	panic  bool
}

func (r *recordingSubmitter) Submit(_ context.Context, req order.Request) (order.Order, error) {
	if r.panic {
		panic("engine exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.err != nil {
		return order.Order{}, r.err
	}
	st := r.status
	if st == "" {
		st = order.StatusFilled
	}
	return order.Order{ID: "o", Symbol: req.Symbol, Status: st}, nil
}

func (r *recordingSubmitter) requests() []order.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]order.Request(nil), r.reqs...)
}

func buy(symbol string, confidence float64) events.Signal {
	return events.Signal{StrategyID: "ma_cross", Symbol: symbol, Action: events.ActionBuy, Confidence: confidence}
}

func TestConfidenceGate(t *testing.T) {
	sub := &recordingSubmitter{}
	sink := &audit.MemorySink{}
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.6
	c, err := New(sub, cfg, WithAuditor(audit.NewLogger(sink)))
	require.NoError(t, err)
	ctx := context.Background()

	require.Equal(t, OutcomeBelowThreshold, c.Handle(ctx, buy("BTCUSDT", 0.55)))
	require.Empty(t, sub.requests())

	require.Equal(t, OutcomeSubmitted, c.Handle(ctx, buy("BTCUSDT", 0.75)))
	reqs := sub.requests()
	require.Len(t, reqs, 1)
	require.Equal(t, order.SideBuy, reqs[0].Side)
	require.Equal(t, order.TypeMarket, reqs[0].Type)
	require.Equal(t, 1.0, reqs[0].Quantity)
	require.Equal(t, "ma_cross", reqs[0].StrategyID)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, audit.CategorySignal, entries[0].Category)
	require.Equal(t, string(OutcomeBelowThreshold), entries[0].Outcome)

	st := c.Stats()
	require.EqualValues(t, 2, st.Received)
	require.EqualValues(t, 1, st.Submitted)
	require.EqualValues(t, 1, st.Discarded)
}

func TestDisabledAndHold(t *testing.T) {
	sub := &recordingSubmitter{}
	c, err := New(sub, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	require.Equal(t, OutcomeHold, c.Handle(ctx, events.Signal{Symbol: "X", Action: events.ActionHold, Confidence: 1}))

	c.SetEnabled(false)
	require.Equal(t, OutcomeDisabled, c.Handle(ctx, buy("X", 0.99)))
	c.SetEnabled(true)
	require.Equal(t, OutcomeSubmitted, c.Handle(ctx, buy("X", 0.99)))
	require.Len(t, sub.requests(), 1)
}

func TestQuantityAndLimitPrice(t *testing.T) {
	sub := &recordingSubmitter{}
	cfg := DefaultConfig()
	cfg.LimitOrders = true
	cfg.DefaultQuantity = 0
	c, err := New(sub, cfg)
	require.NoError(t, err)
	ctx := context.Background()

	require.Equal(t, OutcomeNoQuantity, c.Handle(ctx, buy("ETHUSDT", 0.9)))

	sig := events.Signal{Symbol: "ETHUSDT", Action: events.ActionSell, Confidence: 0.9, Quantity: 3, Price: 2500}
	require.Equal(t, OutcomeSubmitted, c.Handle(ctx, sig))
	req := sub.requests()[0]
	require.Equal(t, order.TypeLimit, req.Type)
	require.Equal(t, 2500.0, req.LimitPrice)
	require.Equal(t, 3.0, req.Quantity)
	require.Equal(t, order.SideSell, req.Side)
}

func TestRejectionsAndErrors(t *testing.T) {
	sub := &recordingSubmitter{status: order.StatusRejected}
	c, _ := New(sub, DefaultConfig())
	require.Equal(t, OutcomeRejected, c.Handle(context.Background(), buy("X", 0.9)))

	sub.err = errors.New("audit sink unavailable")
	require.Equal(t, OutcomeError, c.Handle(context.Background(), buy("X", 0.9)))

	st := c.Stats()
	require.EqualValues(t, 1, st.Rejected)
	require.EqualValues(t, 1, st.Errors)
}

func TestSetMinConfidenceValidates(t *testing.T) {
	c, _ := New(&recordingSubmitter{}, DefaultConfig())
	require.Error(t, c.SetMinConfidence(1.5))
	require.Equal(t, 0.6, c.MinConfidence())
	require.NoError(t, c.SetMinConfidence(0.8))
	require.Equal(t, OutcomeBelowThreshold, c.Handle(context.Background(), buy("X", 0.75)))
}

func TestRunPreservesPerSymbolOrder(t *testing.T) {
	bus := events.NewBus(events.Config{BufferSize: 1024})
	stream, err := bus.Subscribe(events.KindSignal)
	require.NoError(t, err)

	sub := &recordingSubmitter{}
	cfg := DefaultConfig()
	cfg.Workers = 3
	c, err := New(sub, cfg)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), stream)
		close(done)
	}()

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	for i := 1; i <= 50; i++ {
		for _, s := range symbols {
			require.NoError(t, bus.Emit(events.Signal{Symbol: s, Action: events.ActionBuy, Confidence: 0.9, Quantity: float64(i)}))
		}
	}
	bus.Close()
	<-done

	last := map[string]float64{}
	reqs := sub.requests()
	require.Len(t, reqs, 150)
	for _, r := range reqs {
		require.Greater(t, r.Quantity, last[r.Symbol], "out of order for %s", r.Symbol)
		last[r.Symbol] = r.Quantity
	}
}

func TestRunRecoversFromPanics(t *testing.T) {
	bus := events.NewBus(events.Config{})
	stream, _ := bus.Subscribe(events.KindSignal)
	alerts, _ := bus.Subscribe(events.KindSystem)
	c, _ := New(&recordingSubmitter{panic: true}, DefaultConfig(), WithBus(bus))

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), stream)
		close(done)
	}()
	require.NoError(t, bus.Emit(buy("BTCUSDT", 0.9)))

	ev := <-alerts.C()
	sys, _ := ev.System()
	require.Equal(t, events.LevelError, sys.Level)
	bus.Close()
	<-done
	require.EqualValues(t, 1, c.Stats().Errors)
}

func TestConcurrentReconfiguration(t *testing.T) {
	c, _ := New(&recordingSubmitter{}, DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.SetEnabled(i%2 == 0)
			_ = c.SetMinConfidence(float64(i) / 10)
		}(i)
		go func() {
			defer wg.Done()
			c.Handle(context.Background(), buy("X", 0.5))
		}()
	}
	wg.Wait()
	require.EqualValues(t, 8, c.Stats().Received)
}
