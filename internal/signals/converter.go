// Package signals turns strategy signals from the event bus into orders.
package signals

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BikeshR/menorepo-sub007/internal/audit"
	"github.com/BikeshR/menorepo-sub007/internal/events"
	"github.com/BikeshR/menorepo-sub007/internal/order"
)

// Submitter accepts order requests. *order.Engine implements it.
type Submitter interface {
	Submit(ctx context.Context, req order.Request) (order.Order, error)
}

// Auditor records discarded signals.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Outcome is what happened to one signal.
type Outcome string

const (
	OutcomeSubmitted      Outcome = "submitted"
	OutcomeRejected       Outcome = "rejected"
	OutcomeDisabled       Outcome = "disabled"
	OutcomeHold           Outcome = "hold"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeNoQuantity     Outcome = "no_quantity"
	OutcomeError          Outcome = "error"
)

// Config is the initial converter configuration.
type Config struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	MinConfidence   float64 `yaml:"min_confidence" json:"min_confidence"`
	DefaultQuantity float64 `yaml:"default_quantity" json:"default_quantity"`
	// LimitOrders turns signals carrying a price into limit orders.
	LimitOrders   bool `yaml:"limit_orders" json:"limit_orders"`
	AuditDiscards bool `yaml:"audit_discards" json:"audit_discards"`
	Workers       int  `yaml:"workers" json:"workers"`
	QueueSize     int  `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns an enabled converter gated at 0.6 confidence.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		MinConfidence:   0.6,
		DefaultQuantity: 1,
		AuditDiscards:   true,
		Workers:         4,
		QueueSize:       64,
	}
}

// Stats are cumulative converter counters.
type Stats struct {
	Enabled       bool    `json:"enabled"`
	MinConfidence float64 `json:"min_confidence"`
	Received      uint64  `json:"received"`
	Submitted     uint64  `json:"submitted"`
	Rejected      uint64  `json:"rejected"`
	Discarded     uint64  `json:"discarded"`
	Errors        uint64  `json:"errors"`
	Dropped       uint64  `json:"dropped"`
}

// Converter gates signals by confidence and submits the survivors. Signals
// for one symbol are handled in arrival order by the same worker lane.
type Converter struct {
	submit Submitter
	audit  Auditor
	bus    *events.Bus
	log    *zap.SugaredLogger

	limitOrders   bool
	auditDiscards bool
	workers       int
	queueSize     int

	enabled    atomic.Bool
	minConf    atomic.Uint64 // float64 bits
	defaultQty atomic.Uint64 // float64 bits

	received, submitted, rejected, discarded, errs, dropped atomic.Uint64
}

// Option configures a Converter.
type Option func(*Converter)

func WithLogger(l *zap.SugaredLogger) Option { return func(c *Converter) { c.log = l } }

// WithAuditor records discarded signals when Config.AuditDiscards is set.
func WithAuditor(a Auditor) Option { return func(c *Converter) { c.audit = a } }

// WithBus publishes System events for submission errors and panics.
func WithBus(b *events.Bus) Option { return func(c *Converter) { c.bus = b } }

// New creates a converter submitting to s.
func New(s Submitter, cfg Config, opts ...Option) (*Converter, error) {
	if s == nil {
		return nil, errors.New("signals: submitter required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	c := &Converter{
		submit:        s,
		log:           zap.NewNop().Sugar(),
		limitOrders:   cfg.LimitOrders,
		auditDiscards: cfg.AuditDiscards,
		workers:       cfg.Workers,
		queueSize:     cfg.QueueSize,
	}
	if err := c.SetMinConfidence(cfg.MinConfidence); err != nil {
		return nil, err
	}
	if err := c.SetDefaultQuantity(cfg.DefaultQuantity); err != nil {
		return nil, err
	}
	c.enabled.Store(cfg.Enabled)
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Converter) SetEnabled(v bool) {
	if c.enabled.Swap(v) != v {
		c.log.Infow("signals: converter toggled", "enabled", v)
	}
}

func (c *Converter) Enabled() bool { return c.enabled.Load() }

// SetMinConfidence updates the gate. v must be within [0,1].
func (c *Converter) SetMinConfidence(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("signals: min confidence %v outside [0,1]", v)
	}
	c.minConf.Store(math.Float64bits(v))
	return nil
}

func (c *Converter) MinConfidence() float64 { return math.Float64frombits(c.minConf.Load()) }

// SetDefaultQuantity sets the size used for signals without one. 0 means such
// signals are discarded.
func (c *Converter) SetDefaultQuantity(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("signals: invalid default quantity %v", v)
	}
	c.defaultQty.Store(math.Float64bits(v))
	return nil
}

func (c *Converter) DefaultQuantity() float64 { return math.Float64frombits(c.defaultQty.Load()) }

// Run consumes sub until it closes or ctx ends, then waits for the lanes to
// finish the signal each is handling. Queued signals not yet started when
// ctx ends are dropped.
func (c *Converter) Run(ctx context.Context, sub *events.Subscription) {
	// ctx stops intake only. A signal already being handled finishes on a
	// context the engine's shutdown grace bounds, not the caller's cancel.
	work := context.WithoutCancel(ctx)
	lanes := make([]chan events.Signal, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan events.Signal, c.queueSize)
		wg.Add(1)
		go func(ch <-chan events.Signal) {
			defer wg.Done()
			for sig := range ch {
				if ctx.Err() != nil {
					c.dropped.Add(1)
					continue
				}
				c.safeHandle(work, sig)
			}
		}(lanes[i])
	}

	sub.Range(ctx, func(ev events.Event) {
		sig, ok := ev.Signal()
		if !ok {
			return
		}
		select {
		case lanes[lane(sig.Symbol, len(lanes))] <- sig:
		case <-ctx.Done():
			c.dropped.Add(1)
		}
	})
	for _, ch := range lanes {
		close(ch)
	}
	wg.Wait()
	c.log.Infow("signals: converter stopped", "dropped", c.dropped.Load())
}

// Handle processes one signal synchronously.
func (c *Converter) Handle(ctx context.Context, sig events.Signal) Outcome {
	c.received.Add(1)

	threshold := c.MinConfidence()
	switch {
	case !c.enabled.Load():
		return c.discard(ctx, sig, OutcomeDisabled, threshold)
	case sig.Action == events.ActionHold:
		return c.discard(ctx, sig, OutcomeHold, threshold)
	case sig.Confidence < threshold:
		return c.discard(ctx, sig, OutcomeBelowThreshold, threshold)
	}

	qty := sig.Quantity
	if qty <= 0 {
		qty = c.DefaultQuantity()
	}
	if qty <= 0 {
		return c.discard(ctx, sig, OutcomeNoQuantity, threshold)
	}

	req := order.Request{
		StrategyID: sig.StrategyID,
		Symbol:     sig.Symbol,
		Side:       order.Side(sig.Action),
		Type:       order.TypeMarket,
		Quantity:   qty,
	}
	if c.limitOrders && sig.Price > 0 {
		req.Type = order.TypeLimit
		req.LimitPrice = sig.Price
	}

	o, err := c.submit.Submit(ctx, req)
	if err != nil {
		c.errs.Add(1)
		c.log.Errorw("signals: submit failed", "strategy", sig.StrategyID, "symbol", sig.Symbol, "error", err)
		c.alert(events.LevelError, fmt.Sprintf("signal from %s on %s not submitted: %v", sig.StrategyID, sig.Symbol, err))
		return OutcomeError
	}
	if o.Status == order.StatusRejected {
		c.rejected.Add(1)
		c.log.Infow("signals: order rejected", "order_id", o.ID, "symbol", o.Symbol, "reason_code", o.ReasonCode, "reason", o.Reason)
		return OutcomeRejected
	}
	c.submitted.Add(1)
	c.log.Debugw("signals: order submitted", "order_id", o.ID, "symbol", o.Symbol, "status", o.Status)
	return OutcomeSubmitted
}

// Stats returns the converter counters and current gate.
func (c *Converter) Stats() Stats {
	return Stats{
		Enabled:       c.enabled.Load(),
		MinConfidence: c.MinConfidence(),
		Received:      c.received.Load(),
		Submitted:     c.submitted.Load(),
		Rejected:      c.rejected.Load(),
		Discarded:     c.discarded.Load(),
		Errors:        c.errs.Load(),
		Dropped:       c.dropped.Load(),
	}
}

func (c *Converter) safeHandle(ctx context.Context, sig events.Signal) {
	defer func() {
		if r := recover(); r != nil {
			c.errs.Add(1)
			c.log.Errorw("signals: panic while handling signal", "symbol", sig.Symbol, "panic", r)
			c.alert(events.LevelError, fmt.Sprintf("signal processing panic: %v", r))
		}
	}()
	c.Handle(ctx, sig)
}

func (c *Converter) discard(ctx context.Context, sig events.Signal, outcome Outcome, threshold float64) Outcome {
	c.discarded.Add(1)
	c.log.Debugw("signals: discarded", "strategy", sig.StrategyID, "symbol", sig.Symbol, "outcome", outcome, "confidence", sig.Confidence)
	if !c.auditDiscards || c.audit == nil {
		return outcome
	}
	_, err := c.audit.Record(context.WithoutCancel(ctx), audit.Entry{
		Category: audit.CategorySignal,
		Subject:  sig.Symbol,
		Outcome:  string(outcome),
		Detail: map[string]any{
			"strategy_id": sig.StrategyID,
			"action":      string(sig.Action),
			"confidence":  sig.Confidence,
			"threshold":   threshold,
		},
	})
	if err != nil {
		c.log.Warnw("signals: discard not audited", "symbol", sig.Symbol, "error", err)
	}
	return outcome
}

func (c *Converter) alert(level events.Level, msg string) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Emit(events.System{Component: "signals", Level: level, Message: msg})
}

func lane(symbol string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
