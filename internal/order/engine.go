package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/breaker"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/monitor"
	"github.com/BikeshR/menorepo-sub007/internal/risk"
)

// RiskEvaluator approves or rejects a proposed order.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, p risk.Proposal) (risk.Decision, error)
}

// Auditor records audit entries durably.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Portfolio serializes per-symbol work and absorbs fills.
type Portfolio interface {
	Lock(symbol string) func()
	RecordFill(ctx context.Context, symbol, side string, qty, price, fee float64) error
}

// Deps are the collaborators of an Engine. Breaker may be nil.
type Deps struct {
	Bus       *events.Bus
	Risk      RiskEvaluator
	Audit     Auditor
	Breaker   *breaker.Breaker
	Broker    Broker
	Store     Store
	Portfolio Portfolio
}

// Config tunes an Engine.
type Config struct {
	ExecutionTimeout time.Duration // upper bound on one broker call; 0 = caller deadline only
	LatencyWindow    int           // submit latency samples kept
}

// Metrics are cumulative engine counters plus current working orders.
type Metrics struct {
	Submitted      uint64               `json:"submitted"`
	Executions     uint64               `json:"executions"`
	Rejections     uint64               `json:"rejections"`
	Cancellations  uint64               `json:"cancellations"`
	Fills          uint64               `json:"fills"`
	TradedVolume   float64              `json:"traded_volume"`
	TradedNotional float64              `json:"traded_notional"`
	Pending        int                  `json:"pending"`
	Open           int                  `json:"open"`
	SubmitLatency  monitor.LatencyStats `json:"submit_latency"`
}

// Engine owns the order lifecycle. It is the only writer of Order state.
// Work on one symbol is serialized through Portfolio.Lock, so the risk check
// and the execution it approves see a consistent position.
type Engine struct {
	cfg       Config
	bus       *events.Bus
	risk      RiskEvaluator
	audit     Auditor
	breaker   *breaker.Breaker
	broker    Broker
	store     Store
	portfolio Portfolio
	log       *zap.SugaredLogger
	now       func() time.Time
	newID     func() string
	latency   *monitor.LatencyHistogram

	mu     sync.RWMutex
	active map[string]Order

	admitMu  sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	stopCtx  context.Context
	stop     context.CancelFunc

	submitted, executions, rejections, cancellations, fills atomic.Uint64

	tradeMu  sync.Mutex
	volume   float64
	notional float64
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.SugaredLogger) Option { return func(e *Engine) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithIDGenerator overrides order id generation.
func WithIDGenerator(fn func() string) Option { return func(e *Engine) { e.newID = fn } }

// NewEngine wires an execution engine.
func NewEngine(d Deps, cfg Config, opts ...Option) (*Engine, error) {
	switch {
	case d.Bus == nil:
		return nil, errors.New("order: event bus required")
	case d.Risk == nil:
		return nil, errors.New("order: risk evaluator required")
	case d.Audit == nil:
		return nil, errors.New("order: auditor required")
	case d.Broker == nil:
		return nil, errors.New("order: broker required")
	case d.Store == nil:
		return nil, errors.New("order: store required")
	case d.Portfolio == nil:
		return nil, errors.New("order: portfolio required")
	}
	if d.Breaker == nil {
		s := breaker.DefaultSettings()
		s.Name = "execution"
		d.Breaker = breaker.New(s)
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 1024
	}
	e := &Engine{
		cfg:       cfg,
		bus:       d.Bus,
		risk:      d.Risk,
		audit:     d.Audit,
		breaker:   d.Breaker,
		broker:    d.Broker,
		store:     d.Store,
		portfolio: d.Portfolio,
		log:       zap.NewNop().Sugar(),
		now:       time.Now,
		newID:     uuid.NewString,
		latency:   monitor.NewLatencyHistogram(cfg.LatencyWindow),
		active:    make(map[string]Order),
	}
	for _, o := range opts {
		o(e)
	}
	e.stopCtx, e.stop = context.WithCancel(context.Background())
	return e, nil
}

// Submit validates req, asks the risk manager, executes through the breaker
// and returns the resulting order. Rejections are not errors: the returned
// Order carries the reason. err is set for malformed requests, persistence or
// audit failures, and after Shutdown.
func (e *Engine) Submit(ctx context.Context, req Request) (Order, error) {
	if !e.admit() {
		return Order{}, ErrEngineClosed
	}
	defer e.inflight.Done()
	defer monitor.NewTimer(e.latency).Stop()
	e.submitted.Add(1)

	verr := req.Validate()
	now := e.now().UTC()
	o := Order{
		ID:          e.newID(),
		StrategyID:  req.StrategyID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// bookkeeping outlives the caller; only the broker call honours ctx
	bg := context.WithoutCancel(ctx)

	if verr != nil {
		o.Status = StatusRejected
		o.ReasonCode = ReasonValidation
		o.Reason = verr.Error()
		if _, err := e.create(bg, o); err != nil {
			return o, errors.Join(verr, err)
		}
		return o, verr
	}

	unlock := e.portfolio.Lock(o.Symbol)
	defer unlock()

	dec, rerr := e.risk.Evaluate(ctx, risk.Proposal{
		Symbol:   o.Symbol,
		Side:     risk.Side(o.Side),
		Quantity: o.Quantity,
		Price:    o.LimitPrice,
	})
	if err := e.auditRisk(bg, o, dec, rerr); err != nil {
		o.Status = StatusRejected
		o.ReasonCode = ReasonAuditUnavailable
		o.Reason = err.Error()
		_, cerr := e.create(bg, o)
		return o, errors.Join(err, cerr)
	}
	switch {
	case rerr != nil:
		e.log.Warnw("order: risk check failed", "order_id", o.ID, "symbol", o.Symbol, "error", rerr)
		o.Status = StatusRejected
		o.ReasonCode = ReasonRiskUnavailable
		o.Reason = rerr.Error()
		return e.create(bg, o)
	case !dec.Approved:
		o.Status = StatusRejected
		o.ReasonCode = string(dec.Code)
		o.Reason = dec.Reason
		return e.create(bg, o)
	}

	o, err := e.create(bg, o)
	if err != nil {
		return o, err
	}

	execCtx, cancel := e.execContext(ctx)
	ex, err := breaker.Call(e.breaker, func() (Execution, error) {
		return e.broker.Execute(execCtx, o)
	})
	cancel()
	if err != nil {
		code := ReasonExecutionFailed
		if isBreakerRejection(err) {
			code = ReasonExecutionUnavailable
		}
		e.log.Warnw("order: execution failed", "order_id", o.ID, "symbol", o.Symbol, "reason_code", code, "error", err)
		return e.reject(bg, o, code, err.Error())
	}
	e.executions.Add(1)

	if ex.Quantity > o.RemainingQty()+fillEpsilon {
		return e.reject(bg, o, ReasonExecutionFailed,
			fmt.Sprintf("broker reported %v filled for %v requested", ex.Quantity, o.Quantity))
	}

	if ex.Quantity < o.RemainingQty()-fillEpsilon {
		next := o
		next.Status = StatusOpen
		if o, err = e.transition(bg, o, next, venueDetail(ex)); err != nil {
			return o, err
		}
	}
	if ex.Quantity > 0 {
		if o, err = e.fill(bg, o, ex); err != nil {
			return o, err
		}
	}

	if !o.Status.IsTerminal() && (o.TimeInForce == IOC || o.TimeInForce == FOK) {
		return e.cancelLocked(bg, o, ReasonTimeInForce, fmt.Sprintf("%s remainder %v cancelled", o.TimeInForce, o.RemainingQty()))
	}
	return o, nil
}

// Cancel withdraws a working order.
func (e *Engine) Cancel(ctx context.Context, id string) (Order, error) {
	if !e.admit() {
		return Order{}, ErrEngineClosed
	}
	defer e.inflight.Done()

	o, unlock, err := e.lockActive(ctx, id)
	if err != nil {
		return o, err
	}
	defer unlock()
	return e.cancelLocked(context.WithoutCancel(ctx), o, ReasonCancelRequested, "cancel requested")
}

// ApplyFill records an execution reported later by the venue for a working
// order.
func (e *Engine) ApplyFill(ctx context.Context, id string, qty, price, fee float64) (Order, error) {
	if !e.admit() {
		return Order{}, ErrEngineClosed
	}
	defer e.inflight.Done()

	o, unlock, err := e.lockActive(ctx, id)
	if err != nil {
		return o, err
	}
	defer unlock()
	return e.fill(context.WithoutCancel(ctx), o, Execution{Quantity: qty, Price: price, Fee: fee})
}

// ExpireDayOrders cancels every working DAY order and returns how many were
// cancelled.
func (e *Engine) ExpireDayOrders(ctx context.Context) (int, error) {
	if !e.admit() {
		return 0, ErrEngineClosed
	}
	defer e.inflight.Done()

	var errs []error
	n := 0
	for _, o := range e.Active() {
		if o.TimeInForce != DAY {
			continue
		}
		cur, unlock, err := e.lockActive(ctx, o.ID)
		if err != nil {
			if !errors.Is(err, ErrTerminal) {
				errs = append(errs, err)
			}
			continue
		}
		_, err = e.cancelLocked(context.WithoutCancel(ctx), cur, ReasonExpired, "day order expired")
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Get returns an order by id.
func (e *Engine) Get(ctx context.Context, id string) (Order, error) {
	e.mu.RLock()
	o, ok := e.active[id]
	e.mu.RUnlock()
	if ok {
		return o, nil
	}
	return e.store.GetOrder(ctx, id)
}

// List returns the newest orders first.
func (e *Engine) List(ctx context.Context, limit int) ([]Order, error) {
	return e.store.ListOrders(ctx, limit)
}

// Active returns the working orders, oldest first.
func (e *Engine) Active() []Order {
	e.mu.RLock()
	out := make([]Order, 0, len(e.active))
	for _, o := range e.active {
		out = append(out, o)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Recover reloads working orders after a restart. Orders left pending were
// interrupted before reaching the broker and are rejected; open orders are
// handed back to the broker when it supports Restorer.
func (e *Engine) Recover(ctx context.Context) error {
	orders, err := e.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("order: load active orders: %w", err)
	}
	restorer, _ := e.broker.(Restorer)
	var errs []error
	for _, o := range orders {
		if o.Status == StatusPending {
			if _, err := e.reject(ctx, o, ReasonInterrupted, "submission interrupted by restart"); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		e.track(o)
		if restorer != nil {
			restorer.Restore(o)
		}
	}
	e.log.Infof("order: recovered %d working orders", len(orders))
	return errors.Join(errs...)
}

// Shutdown stops admitting work and waits for in-flight calls until ctx ends.
// When ctx ends first, pending broker calls are cancelled and ctx.Err() is
// returned. Orders still working are logged either way.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.admitMu.Lock()
	e.closed = true
	e.admitMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.log.Warnw("order: shutdown grace period elapsed, cancelling in-flight executions")
	}
	e.stop()

	left := e.Active()
	for _, o := range left {
		e.log.Warnw("order: left working at shutdown",
			"order_id", o.ID, "symbol", o.Symbol, "status", o.Status, "remaining", o.RemainingQty())
	}
	if len(left) > 0 {
		_ = e.bus.Emit(events.System{
			Component: "order",
			Level:     events.LevelWarn,
			Message:   fmt.Sprintf("%d orders left working at shutdown", len(left)),
		})
	}
	return err
}

// GetMetrics returns a snapshot of the engine counters.
func (e *Engine) GetMetrics() Metrics {
	m := Metrics{
		Submitted:     e.submitted.Load(),
		Executions:    e.executions.Load(),
		Rejections:    e.rejections.Load(),
		Cancellations: e.cancellations.Load(),
		Fills:         e.fills.Load(),
		SubmitLatency: e.latency.Stats(),
	}
	e.tradeMu.Lock()
	m.TradedVolume = e.volume
	m.TradedNotional = e.notional
	e.tradeMu.Unlock()

	e.mu.RLock()
	for _, o := range e.active {
		if o.Status == StatusPending {
			m.Pending++
		} else {
			m.Open++
		}
	}
	e.mu.RUnlock()
	return m
}

// Breaker returns the breaker guarding broker calls.
func (e *Engine) Breaker() *breaker.Breaker { return e.breaker }

func (e *Engine) admit() bool {
	e.admitMu.Lock()
	defer e.admitMu.Unlock()
	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

// execContext bounds a broker call by ctx, the execution timeout and a forced
// shutdown.
func (e *Engine) execContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if e.cfg.ExecutionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	release := context.AfterFunc(e.stopCtx, cancel)
	return ctx, func() {
		release()
		cancel()
	}
}

// lockActive takes the symbol lock for a working order and returns its
// current state under that lock.
func (e *Engine) lockActive(ctx context.Context, id string) (Order, func(), error) {
	o, err := e.Get(ctx, id)
	if err != nil {
		return Order{}, nil, err
	}
	if o.Status.IsTerminal() {
		return o, nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, o.Status)
	}
	unlock := e.portfolio.Lock(o.Symbol)
	e.mu.RLock()
	cur, ok := e.active[id]
	e.mu.RUnlock()
	if !ok {
		unlock()
		// retired while we waited for the lock
		if o, err = e.store.GetOrder(ctx, id); err != nil {
			return Order{}, nil, err
		}
		return o, nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, o.Status)
	}
	return cur, unlock, nil
}

// create persists and audits a new order and returns it as stored. A pending
// order whose audit fails is stored rejected with audit_unavailable.
func (e *Engine) create(ctx context.Context, o Order) (Order, error) {
	if err := e.store.CreateOrder(ctx, o); err != nil {
		return o, fmt.Errorf("order: persist %s: %w", o.ID, err)
	}
	if _, err := e.audit.Record(ctx, orderEntry("", o, nil)); err != nil {
		if o.Status == StatusPending {
			o.Status = StatusRejected
			o.ReasonCode = ReasonAuditUnavailable
			o.Reason = err.Error()
			if uerr := e.store.UpdateOrder(ctx, o); uerr != nil {
				e.log.Errorw("order: mark unaudited order rejected", "order_id", o.ID, "error", uerr)
			}
		}
		return o, fmt.Errorf("order: audit %s: %w", o.ID, err)
	}
	if o.Status == StatusRejected {
		e.rejections.Add(1)
	} else {
		e.track(o)
	}
	e.publish("", o)
	return o, nil
}

// transition persists next and audits it before committing in memory. When
// the audit fails the store is rolled back to prev.
func (e *Engine) transition(ctx context.Context, prev, next Order, detail map[string]any) (Order, error) {
	if prev.Status.IsTerminal() {
		return prev, fmt.Errorf("%w: %s is %s", ErrTerminal, prev.ID, prev.Status)
	}
	if !CanTransition(prev.Status, next.Status) {
		return prev, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev.Status, next.Status)
	}
	next.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateOrder(ctx, next); err != nil {
		return prev, fmt.Errorf("order: persist %s: %w", next.ID, err)
	}
	if _, err := e.audit.Record(ctx, orderEntry(prev.Status, next, detail)); err != nil {
		if rerr := e.store.UpdateOrder(ctx, prev); rerr != nil {
			e.log.Errorw("order: rollback after audit failure", "order_id", prev.ID, "error", rerr)
		}
		return prev, fmt.Errorf("order: audit %s: %w", next.ID, err)
	}

	switch next.Status {
	case StatusRejected:
		e.rejections.Add(1)
	case StatusCancelled:
		e.cancellations.Add(1)
	}
	if next.Status.IsTerminal() {
		e.retire(next.ID)
	} else {
		e.track(next)
	}
	e.publish(prev.Status, next)
	return next, nil
}

func (e *Engine) reject(ctx context.Context, o Order, code, reason string) (Order, error) {
	next := o
	next.Status = StatusRejected
	next.ReasonCode = code
	next.Reason = reason
	return e.transition(ctx, o, next, nil)
}

func (e *Engine) fill(ctx context.Context, o Order, ex Execution) (Order, error) {
	next := o
	status, err := next.addFill(ex.Quantity, ex.Price)
	if err != nil {
		return o, err
	}
	next.Status = status
	detail := venueDetail(ex)
	detail["fill_quantity"] = ex.Quantity
	detail["fill_price"] = ex.Price
	detail["fee"] = ex.Fee
	if o, err = e.transition(ctx, o, next, detail); err != nil {
		return o, err
	}

	e.fills.Add(1)
	e.tradeMu.Lock()
	e.volume += ex.Quantity
	e.notional += ex.Quantity * ex.Price
	e.tradeMu.Unlock()

	// The order is already committed; a failure past this point leaves the
	// books out of step and needs reconciliation, not a rollback.
	var errs []error
	if err := e.store.RecordFill(ctx, o, ex); err != nil {
		err = fmt.Errorf("order: record fill %s: %w", o.ID, err)
		e.fillUnapplied(ctx, o, ex, "trade_log", err)
		errs = append(errs, err)
	}
	if err := e.portfolio.RecordFill(ctx, o.Symbol, string(o.Side), ex.Quantity, ex.Price, ex.Fee); err != nil {
		err = fmt.Errorf("order: apply fill %s to portfolio: %w", o.ID, err)
		e.fillUnapplied(ctx, o, ex, "portfolio", err)
		errs = append(errs, err)
	}
	if err := e.bus.Emit(events.Fill{
		OrderID:  o.ID,
		Symbol:   o.Symbol,
		Side:     string(o.Side),
		Quantity: ex.Quantity,
		Price:    ex.Price,
		Fee:      ex.Fee,
		Final:    o.Status == StatusFilled,
	}); err != nil {
		e.log.Debugw("order: fill event not published", "order_id", o.ID, "error", err)
	}
	return o, errors.Join(errs...)
}

// fillUnapplied raises a reconciliation alert for a committed fill that did
// not reach the trade log or the portfolio.
func (e *Engine) fillUnapplied(ctx context.Context, o Order, ex Execution, stage string, cause error) {
	e.log.Errorw("order: fill committed but not applied, reconcile required",
		"order_id", o.ID, "symbol", o.Symbol, "side", o.Side, "stage", stage,
		"fill_quantity", ex.Quantity, "fill_price", ex.Price, "error", cause)
	detail := venueDetail(ex)
	detail["stage"] = stage
	detail["symbol"] = o.Symbol
	detail["side"] = string(o.Side)
	detail["fill_quantity"] = ex.Quantity
	detail["fill_price"] = ex.Price
	detail["fee"] = ex.Fee
	detail["error"] = cause.Error()
	if _, err := e.audit.Record(ctx, audit.Entry{
		Category: audit.CategoryOrder,
		Subject:  o.ID,
		Outcome:  OutcomeFillUnapplied,
		Detail:   detail,
	}); err != nil {
		e.log.Errorw("order: audit unapplied fill", "order_id", o.ID, "error", err)
	}
	_ = e.bus.Emit(events.System{
		Component: "order",
		Level:     events.LevelError,
		Message:   fmt.Sprintf("fill for %s not applied to %s; reconcile required", o.ID, stage),
		Fields:    map[string]string{"order_id": o.ID, "symbol": o.Symbol, "stage": stage},
	})
}

// cancelLocked withdraws o at the broker, then moves it to cancelled. The
// caller holds the symbol lock.
func (e *Engine) cancelLocked(ctx context.Context, o Order, code, reason string) (Order, error) {
	if o.Status.IsTerminal() {
		return o, fmt.Errorf("%w: %s is %s", ErrTerminal, o.ID, o.Status)
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}
	if c, ok := e.broker.(Canceler); ok {
		execCtx, cancel := e.execContext(ctx)
		err := e.breaker.Execute(func() error { return c.Cancel(execCtx, o) })
		cancel()
		if err != nil {
			if isBreakerRejection(err) {
				return o, fmt.Errorf("%w: %v", ErrExecutionUnavailable, err)
			}
			return o, fmt.Errorf("order: cancel %s at broker: %w", o.ID, err)
		}
	}
	next := o
	next.Status = StatusCancelled
	next.ReasonCode = code
	next.Reason = reason
	return e.transition(ctx, o, next, nil)
}

func (e *Engine) auditRisk(ctx context.Context, o Order, d risk.Decision, evalErr error) error {
	entry := audit.Entry{
		Category: audit.CategoryRisk,
		Subject:  o.ID,
		Detail: map[string]any{
			"symbol":   o.Symbol,
			"side":     string(o.Side),
			"quantity": o.Quantity,
			"price":    o.LimitPrice,
		},
	}
	switch {
	case evalErr != nil:
		entry.Outcome = "error"
		entry.Detail["error"] = evalErr.Error()
	case d.Approved:
		entry.Outcome = "approved"
	default:
		entry.Outcome = "rejected"
		entry.Detail["code"] = string(d.Code)
		entry.Detail["reason"] = d.Reason
	}
	if evalErr == nil {
		entry.Detail["position"] = d.Exposure.Position
		entry.Detail["daily_pnl"] = d.Exposure.DailyPnL
		entry.Detail["portfolio_value"] = d.Exposure.PortfolioValue
	}
	if _, err := e.audit.Record(ctx, entry); err != nil {
		return fmt.Errorf("order: audit risk decision %s: %w", o.ID, err)
	}
	return nil
}

func (e *Engine) track(o Order) {
	e.mu.Lock()
	e.active[o.ID] = o
	e.mu.Unlock()
}

func (e *Engine) retire(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

func (e *Engine) publish(prev Status, o Order) {
	err := e.bus.Emit(events.OrderUpdate{
		OrderID:        o.ID,
		StrategyID:     o.StrategyID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		PreviousStatus: string(prev),
		Status:         string(o.Status),
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		ReasonCode:     o.ReasonCode,
		Reason:         o.Reason,
	})
	if err != nil {
		e.log.Debugw("order: update not published", "order_id", o.ID, "status", o.Status, "error", err)
	}
}

func orderEntry(prev Status, o Order, extra map[string]any) audit.Entry {
	detail := map[string]any{
		"symbol":          o.Symbol,
		"side":            string(o.Side),
		"type":            string(o.Type),
		"quantity":        o.Quantity,
		"filled_quantity": o.FilledQuantity,
		"time_in_force":   string(o.TimeInForce),
		"to":              string(o.Status),
	}
	if prev != "" {
		detail["from"] = string(prev)
	}
	if o.StrategyID != "" {
		detail["strategy_id"] = o.StrategyID
	}
	if o.AvgFillPrice > 0 {
		detail["avg_fill_price"] = o.AvgFillPrice
	}
	if o.ReasonCode != "" {
		detail["reason_code"] = o.ReasonCode
		detail["reason"] = o.Reason
	}
	for k, v := range extra {
		detail[k] = v
	}
	return audit.Entry{
		Category: audit.CategoryOrder,
		Subject:  o.ID,
		Outcome:  string(o.Status),
		Detail:   detail,
	}
}

func venueDetail(ex Execution) map[string]any {
	d := map[string]any{}
	if ex.VenueOrderID != "" {
		d["venue_order_id"] = ex.VenueOrderID
	}
	return d
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, breaker.ErrOpen) || errors.Is(err, breaker.ErrTooManyRequests)
}
