package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/breaker"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/risk"
	"github.com/BikeshR/menorepo-sub007/internal/state"
)

type harness struct {
	bus       *events.Bus
	engine    *Engine
	store     *MemoryStore
	sink      *audit.MemorySink
	risk      *risk.Manager
	portfolio *state.Manager
	paper     *PaperBroker
	breaker   *breaker.Breaker
}

func newHarness(t *testing.T, limits risk.Limits, broker Broker) *harness {
	t.Helper()
	h := &harness{
		bus:       events.NewBus(events.Config{}),
		store:     NewMemoryStore(),
		sink:      &audit.MemorySink{},
		portfolio: state.NewManager(nil, 100000),
		breaker:   breaker.New(breaker.Settings{Name: "execution", MaxFailures: 2, Timeout: time.Minute}),
	}
	h.portfolio.UpdateMark(events.MarketData{Symbol: "BTCUSDT", Price: 100})
	var err error
	if h.risk, err = risk.NewManager(limits, h.portfolio); err != nil {
		t.Fatalf("risk.NewManager: %v", err)
	}
	h.paper = NewPaperBroker(PaperConfig{}, h.portfolio, nil)
	if broker == nil {
		broker = h.paper
	}
	var seq atomic.Int64
	h.engine, err = NewEngine(Deps{
		Bus:       h.bus,
		Risk:      h.risk,
		Audit:     audit.NewLogger(h.sink),
		Breaker:   h.breaker,
		Broker:    broker,
		Store:     h.store,
		Portfolio: h.portfolio,
	}, Config{}, WithIDGenerator(func() string { return fmt.Sprintf("o-%d", seq.Add(1)) }))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(h.bus.Close)
	return h
}

func (h *harness) audited(t *testing.T, id string) []string {
	t.Helper()
	entries, err := h.sink.BySubject(context.Background(), id)
	if err != nil {
		t.Fatalf("BySubject: %v", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, string(e.Category)+":"+e.Outcome)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func market(symbol string, side Side, qty float64) Request {
	return Request{Symbol: symbol, Side: side, Type: TypeMarket, Quantity: qty}
}

func TestSubmitMarketOrderFills(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	updates, _ := h.bus.Subscribe(events.KindOrder)
	fills, _ := h.bus.Subscribe(events.KindFill)

	o, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 2))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status != StatusFilled || o.FilledQuantity != 2 || o.AvgFillPrice != 100 {
		t.Fatalf("unexpected order %+v", o)
	}
	if got := h.portfolio.Position("BTCUSDT").Qty; got != 2 {
		t.Fatalf("position=%v, expected 2", got)
	}

	want := []string{"risk_decision:approved", "order:pending", "order:filled"}
	if got := h.audited(t, o.ID); !equalStrings(got, want) {
		t.Fatalf("audit trail %v, expected %v", got, want)
	}

	var statuses []string
	for i := 0; i < 2; i++ {
		ev := <-updates.C()
		u, _ := ev.Order()
		statuses = append(statuses, u.Status)
	}
	if !equalStrings(statuses, []string{"pending", "filled"}) {
		t.Fatalf("order events %v", statuses)
	}
	ev := <-fills.C()
	if f, _ := ev.Fill(); !f.Final || f.Quantity != 2 {
		t.Fatalf("unexpected fill event %+v", f)
	}
	if got := len(h.store.Fills(o.ID)); got != 1 {
		t.Fatalf("stored fills=%d, expected 1", got)
	}
}

func TestSubmitValidationRejects(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	tests := []struct {
		name string
		req  Request
	}{
		{"missing symbol", Request{Side: SideBuy, Type: TypeMarket, Quantity: 1}},
		{"missing side", Request{Symbol: "BTCUSDT", Type: TypeMarket, Quantity: 1}},
		{"zero quantity", market("BTCUSDT", SideBuy, 0)},
		{"limit without price", Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := h.engine.Submit(context.Background(), tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err=%v, expected ErrValidation", err)
			}
			if o.Status != StatusRejected || o.ReasonCode != ReasonValidation || o.Reason == "" {
				t.Fatalf("unexpected order %+v", o)
			}
		})
	}
	if got := h.risk.GetMetrics().ChecksTotal; got != 0 {
		t.Fatalf("risk consulted %d times for malformed orders", got)
	}
}

func TestSubmitRiskRejection(t *testing.T) {
	h := newHarness(t, risk.Limits{MaxPositionSize: 10}, nil)
	if _, err := h.portfolio.ApplyFill(context.Background(), "BTCUSDT", "buy", 8, 100, 0); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	o, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 5))
	if err != nil {
		t.Fatalf("risk rejection must not be an error: %v", err)
	}
	if o.Status != StatusRejected || o.ReasonCode != string(risk.ReasonPositionLimit) || o.Reason == "" {
		t.Fatalf("unexpected order %+v", o)
	}
	want := []string{"risk_decision:rejected", "order:rejected"}
	if got := h.audited(t, o.ID); !equalStrings(got, want) {
		t.Fatalf("audit trail %v, expected %v", got, want)
	}
	if got := h.portfolio.Position("BTCUSDT").Qty; got != 8 {
		t.Fatalf("position=%v, expected 8", got)
	}
}

func TestBreakerOpenRejectsAsUnavailable(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	var calls atomic.Int32
	h.paper.Fail = func(Order) error {
		calls.Add(1)
		return errors.New("venue timeout")
	}

	for i := 0; i < 2; i++ {
		o, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 1))
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if o.ReasonCode != ReasonExecutionFailed {
			t.Fatalf("attempt %d: ReasonCode=%q, expected %q", i, o.ReasonCode, ReasonExecutionFailed)
		}
	}
	if h.breaker.State() != breaker.StateOpen {
		t.Fatalf("breaker state=%v, expected open", h.breaker.State())
	}

	o, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 1))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status != StatusRejected || o.ReasonCode != ReasonExecutionUnavailable {
		t.Fatalf("unexpected order %+v", o)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("broker called %d times, expected 2", got)
	}
}

func TestCancelTerminalOrder(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	o, _ := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 1))

	if _, err := h.engine.Cancel(context.Background(), o.ID); !errors.Is(err, ErrTerminal) {
		t.Fatalf("err=%v, expected ErrTerminal", err)
	}
	if _, err := h.engine.Cancel(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, expected ErrNotFound", err)
	}
}

func TestLimitOrderRestsThenFills(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()

	o, err := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 90})
	if err != nil || o.Status != StatusOpen {
		t.Fatalf("Submit: %+v err=%v", o, err)
	}
	if m := h.engine.GetMetrics(); m.Open != 1 {
		t.Fatalf("Open=%d, expected 1", m.Open)
	}

	if got := h.paper.Match("BTCUSDT", 95); len(got) != 0 {
		t.Fatalf("non-crossing price matched %v", got)
	}
	matched := h.paper.Match("BTCUSDT", 89)
	if len(matched) != 1 {
		t.Fatalf("matched %d orders, expected 1", len(matched))
	}
	f := matched[0]
	o, err = h.engine.ApplyFill(ctx, f.OrderID, f.Quantity, f.Price, f.Fee)
	if err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if o.Status != StatusFilled || o.AvgFillPrice != 90 {
		t.Fatalf("unexpected order %+v", o)
	}
	if m := h.engine.GetMetrics(); m.Open != 0 || m.Fills != 1 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestPartialFillThenCancel(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()
	o, _ := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 2, LimitPrice: 90})

	o, err := h.engine.ApplyFill(ctx, o.ID, 0.5, 90, 0)
	if err != nil || o.Status != StatusPartiallyFilled {
		t.Fatalf("ApplyFill: %+v err=%v", o, err)
	}
	o, err = h.engine.ApplyFill(ctx, o.ID, 0.5, 80, 0)
	if err != nil || o.Status != StatusPartiallyFilled || o.AvgFillPrice != 85 {
		t.Fatalf("second ApplyFill: %+v err=%v", o, err)
	}

	o, err = h.engine.Cancel(ctx, o.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if o.Status != StatusCancelled || o.FilledQuantity != 1 || o.ReasonCode != ReasonCancelRequested {
		t.Fatalf("unexpected order %+v", o)
	}
	if len(h.paper.Resting()) != 0 {
		t.Fatalf("cancelled order still resting at broker")
	}
	if _, err := h.engine.ApplyFill(ctx, o.ID, 0.5, 90, 0); !errors.Is(err, ErrTerminal) {
		t.Fatalf("fill after cancel: err=%v, expected ErrTerminal", err)
	}

	want := []string{
		"risk_decision:approved", "order:pending", "order:open",
		"order:partially_filled", "order:partially_filled", "order:cancelled",
	}
	if got := h.audited(t, o.ID); !equalStrings(got, want) {
		t.Fatalf("audit trail %v, expected %v", got, want)
	}
}

func TestOverfillRejected(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()
	o, _ := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideSell, Type: TypeLimit, Quantity: 1, LimitPrice: 150})

	if _, err := h.engine.ApplyFill(ctx, o.ID, 2, 150, 0); !errors.Is(err, ErrOverfill) {
		t.Fatalf("err=%v, expected ErrOverfill", err)
	}
	got, _ := h.engine.Get(ctx, o.ID)
	if got.Status != StatusOpen || got.FilledQuantity != 0 {
		t.Fatalf("order changed by rejected fill: %+v", got)
	}
}

func TestIOCRemainderCancelled(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	o, err := h.engine.Submit(context.Background(), Request{
		Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 50, TimeInForce: IOC,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if o.Status != StatusCancelled || o.ReasonCode != ReasonTimeInForce {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestExpireDayOrders(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()
	day, _ := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 50, TimeInForce: DAY})
	gtc, _ := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 50})

	n, err := h.engine.ExpireDayOrders(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ExpireDayOrders=%d err=%v, expected 1", n, err)
	}
	if o, _ := h.engine.Get(ctx, day.ID); o.Status != StatusCancelled || o.ReasonCode != ReasonExpired {
		t.Fatalf("day order %+v", o)
	}
	if o, _ := h.engine.Get(ctx, gtc.ID); o.Status != StatusOpen {
		t.Fatalf("gtc order %+v", o)
	}
}

func TestAuditFailureRollsBack(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()
	o, _ := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 50})

	h.sink.SetErr(errors.New("disk full"))
	if _, err := h.engine.Cancel(ctx, o.ID); !errors.Is(err, audit.ErrSinkUnavailable) {
		t.Fatalf("err=%v, expected ErrSinkUnavailable", err)
	}
	if got, _ := h.engine.Get(ctx, o.ID); got.Status != StatusOpen {
		t.Fatalf("in-memory status=%s, expected open", got.Status)
	}
	if got, _ := h.store.GetOrder(ctx, o.ID); got.Status != StatusOpen {
		t.Fatalf("stored status=%s, expected open", got.Status)
	}

	if _, err := h.engine.Submit(ctx, market("BTCUSDT", SideBuy, 1)); !errors.Is(err, audit.ErrSinkUnavailable) {
		t.Fatalf("submit with broken audit: err=%v", err)
	}
}

func TestConcurrentSubmitsRespectPositionLimit(t *testing.T) {
	h := newHarness(t, risk.Limits{MaxPositionSize: 10}, nil)
	var wg sync.WaitGroup
	var filled atomic.Int32
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 1))
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			if o.Status == StatusFilled {
				filled.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := filled.Load(); got != 10 {
		t.Fatalf("filled=%d, expected 10", got)
	}
	if got := h.portfolio.Position("BTCUSDT").Qty; got != 10 {
		t.Fatalf("position=%v, expected 10", got)
	}
	m := h.engine.GetMetrics()
	if m.Submitted != 25 || m.Rejections != 15 || m.TradedVolume != 10 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

type blockingBroker struct {
	started chan struct{}
}

func (b *blockingBroker) Execute(ctx context.Context, _ Order) (Execution, error) {
	close(b.started)
	<-ctx.Done()
	return Execution{}, ctx.Err()
}

func TestShutdownForcesHungExecution(t *testing.T) {
	bb := &blockingBroker{started: make(chan struct{})}
	h := newHarness(t, risk.DefaultLimits(), bb)

	type result struct {
		o   Order
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 1))
		done <- result{o, err}
	}()
	<-bb.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.engine.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err=%v, expected deadline exceeded", err)
	}

	r := <-done
	if r.err != nil {
		t.Fatalf("Submit: %v", r.err)
	}
	if r.o.Status != StatusRejected || r.o.ReasonCode != ReasonExecutionFailed {
		t.Fatalf("unexpected order %+v", r.o)
	}
	if h.breaker.State() != breaker.StateClosed {
		t.Fatalf("cancellation counted against the breaker")
	}
	if _, err := h.engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 1)); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("err=%v, expected ErrEngineClosed", err)
	}
}

func TestShutdownIdle(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	if err := h.engine.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := h.engine.Cancel(context.Background(), "o-1"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("err=%v, expected ErrEngineClosed", err)
	}
}

func TestRecover(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()
	now := time.Now().UTC()
	pending := Order{ID: "p-1", Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Quantity: 1, TimeInForce: GTC, Status: StatusPending, CreatedAt: now, UpdatedAt: now}
	open := Order{ID: "p-2", Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 50, TimeInForce: GTC, Status: StatusOpen, CreatedAt: now, UpdatedAt: now}
	for _, o := range []Order{pending, open} {
		if err := h.store.CreateOrder(ctx, o); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}

	if err := h.engine.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if o, _ := h.engine.Get(ctx, "p-1"); o.Status != StatusRejected || o.ReasonCode != ReasonInterrupted {
		t.Fatalf("pending order after recover %+v", o)
	}
	if active := h.engine.Active(); len(active) != 1 || active[0].ID != "p-2" {
		t.Fatalf("active=%v, expected p-2", active)
	}
	if resting := h.paper.Resting(); len(resting) != 1 || resting[0].ID != "p-2" {
		t.Fatalf("broker resting=%v, expected p-2", resting)
	}
}

func TestExpireDayOrdersAfterShutdown(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	ctx := context.Background()
	day, _ := h.engine.Submit(ctx, Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: 50, TimeInForce: DAY})
	if err := h.engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if n, err := h.engine.ExpireDayOrders(ctx); !errors.Is(err, ErrEngineClosed) || n != 0 {
		t.Fatalf("ExpireDayOrders=%d err=%v, expected ErrEngineClosed", n, err)
	}
	if o, _ := h.store.GetOrder(ctx, day.ID); o.Status != StatusOpen {
		t.Fatalf("stored status=%s, expected open", o.Status)
	}
}

// orderAuditOutage fails order entries and passes every other category through.
type orderAuditOutage struct {
	Auditor
}

func (a orderAuditOutage) Record(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.Category == audit.CategoryOrder {
		return audit.Entry{}, audit.ErrSinkUnavailable
	}
	return a.Auditor.Record(ctx, e)
}

func TestSubmitReturnsStoredOrderWhenAuditFails(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	engine, err := NewEngine(Deps{
		Bus:       h.bus,
		Risk:      h.risk,
		Audit:     orderAuditOutage{audit.NewLogger(h.sink)},
		Broker:    h.paper,
		Store:     h.store,
		Portfolio: h.portfolio,
	}, Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()

	o, err := engine.Submit(ctx, market("BTCUSDT", SideBuy, 1))
	if !errors.Is(err, audit.ErrSinkUnavailable) {
		t.Fatalf("err=%v, expected ErrSinkUnavailable", err)
	}
	if o.Status != StatusRejected || o.ReasonCode != ReasonAuditUnavailable {
		t.Fatalf("returned %s/%s, expected rejected/%s", o.Status, o.ReasonCode, ReasonAuditUnavailable)
	}
	stored, err := h.store.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.Status != o.Status || stored.ReasonCode != o.ReasonCode {
		t.Fatalf("stored %s/%s, returned %s/%s", stored.Status, stored.ReasonCode, o.Status, o.ReasonCode)
	}
	if got := h.portfolio.Position("BTCUSDT").Qty; got != 0 {
		t.Fatalf("position=%v, expected nothing executed", got)
	}
}

// tradeLogOutage refuses fill rows and stores everything else.
type tradeLogOutage struct {
	*MemoryStore
}

func (tradeLogOutage) RecordFill(context.Context, Order, Execution) error {
	return errors.New("trade log offline")
}

func TestFillNotRecordedRaisesReconciliationAlert(t *testing.T) {
	h := newHarness(t, risk.DefaultLimits(), nil)
	engine, err := NewEngine(Deps{
		Bus:       h.bus,
		Risk:      h.risk,
		Audit:     audit.NewLogger(h.sink),
		Broker:    h.paper,
		Store:     tradeLogOutage{h.store},
		Portfolio: h.portfolio,
	}, Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	alerts, _ := h.bus.Subscribe(events.KindSystem)

	o, err := engine.Submit(context.Background(), market("BTCUSDT", SideBuy, 2))
	if err == nil {
		t.Fatalf("expected an error for the unrecorded fill")
	}
	if o.Status != StatusFilled {
		t.Fatalf("status=%s, expected filled", o.Status)
	}
	if got := h.portfolio.Position("BTCUSDT").Qty; got != 2 {
		t.Fatalf("position=%v, expected the fill applied to the portfolio", got)
	}

	want := []string{"risk_decision:approved", "order:pending", "order:filled", "order:" + OutcomeFillUnapplied}
	if got := h.audited(t, o.ID); !equalStrings(got, want) {
		t.Fatalf("audit trail %v, expected %v", got, want)
	}

	select {
	case ev := <-alerts.C():
		s, _ := ev.System()
		if s.Level != events.LevelError || s.Fields["order_id"] != o.ID || s.Fields["stage"] != "trade_log" {
			t.Fatalf("unexpected alert %+v", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("no reconciliation alert published")
	}
}
