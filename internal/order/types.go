package order

import (
	"fmt"
	"math"
	"time"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type is the order type.
type Type string

const (
	TypeMarket    Type = "market"
	TypeLimit     Type = "limit"
	TypeStop      Type = "stop"
	TypeStopLimit Type = "stop_limit"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	GTC TimeInForce = "GTC"
	IOC TimeInForce = "IOC"
	FOK TimeInForce = "FOK"
	DAY TimeInForce = "DAY"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

var transitions = map[Status][]Status{
	StatusPending:         {StatusOpen, StatusFilled, StatusRejected},
	StatusOpen:            {StatusPartiallyFilled, StatusFilled, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reason codes attached to rejected orders.
const (
	ReasonValidation           = "validation"
	ReasonRiskUnavailable      = "risk_unavailable"
	ReasonExecutionUnavailable = "execution_unavailable"
	ReasonExecutionFailed      = "execution_failed"
	ReasonAuditUnavailable     = "audit_unavailable"
	ReasonInterrupted          = "interrupted"
)

// Reason codes attached to cancelled orders.
const (
	ReasonCancelRequested = "cancel_requested"
	ReasonTimeInForce     = "time_in_force"
	ReasonExpired         = "expired"
)

// OutcomeFillUnapplied is the audit outcome of a committed fill that failed to
// reach the trade log or the portfolio.
const OutcomeFillUnapplied = "fill_unapplied"

// Order is the engine's record of an order. Only the engine mutates it.
type Order struct {
	ID             string      `json:"id"`
	StrategyID     string      `json:"strategy_id,omitempty"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           Type        `json:"type"`
	Quantity       float64     `json:"quantity"`
	LimitPrice     float64     `json:"limit_price,omitempty"`
	StopPrice      float64     `json:"stop_price,omitempty"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price,omitempty"`
	TimeInForce    TimeInForce `json:"time_in_force"`
	Status         Status      `json:"status"`
	ReasonCode     string      `json:"reason_code,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RemainingQty returns the unfilled quantity.
func (o *Order) RemainingQty() float64 {
	return o.Quantity - o.FilledQuantity
}

// IsFullyFilled checks if the order quantity has been reached.
func (o *Order) IsFullyFilled() bool {
	return o.FilledQuantity >= o.Quantity
}

// fillEpsilon absorbs float drift when summing partial fills.
const fillEpsilon = 1e-9

// addFill applies an execution to the quantity fields and returns the status
// the order should move to. It does not change Status.
func (o *Order) addFill(qty, price float64) (Status, error) {
	if qty <= 0 || price <= 0 || math.IsInf(qty, 0) || math.IsInf(price, 0) {
		return "", fmt.Errorf("%w: qty=%v price=%v", ErrInvalidFill, qty, price)
	}
	filled := o.FilledQuantity + qty
	if filled > o.Quantity+fillEpsilon {
		return "", fmt.Errorf("%w: filled %v + %v exceeds quantity %v", ErrOverfill, o.FilledQuantity, qty, o.Quantity)
	}
	if filled > o.Quantity {
		filled = o.Quantity
	}
	o.AvgFillPrice = (o.AvgFillPrice*o.FilledQuantity + price*qty) / (o.FilledQuantity + qty)
	o.FilledQuantity = filled
	if o.Quantity-filled <= fillEpsilon {
		o.FilledQuantity = o.Quantity
		return StatusFilled, nil
	}
	return StatusPartiallyFilled, nil
}

// Request is what callers submit. The engine turns it into an Order.
type Request struct {
	StrategyID  string      `json:"strategy_id,omitempty"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Type        Type        `json:"type"`
	Quantity    float64     `json:"quantity"`
	LimitPrice  float64     `json:"limit_price,omitempty"`
	StopPrice   float64     `json:"stop_price,omitempty"`
	TimeInForce TimeInForce `json:"time_in_force,omitempty"`
}

// ValidationError names the first malformed field of a Request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validate checks the structural shape of r. TimeInForce defaults to GTC.
func (r *Request) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "required"}
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", r.Side)}
	}
	if !(r.Quantity > 0) || math.IsInf(r.Quantity, 0) {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !validPrice(r.LimitPrice) || !validPrice(r.StopPrice) {
		return &ValidationError{Field: "price", Reason: "must be a finite, non-negative number"}
	}
	switch r.Type {
	case TypeMarket:
	case TypeLimit:
		if r.LimitPrice <= 0 {
			return &ValidationError{Field: "limit_price", Reason: "required for limit orders"}
		}
	case TypeStop:
		if r.StopPrice <= 0 {
			return &ValidationError{Field: "stop_price", Reason: "required for stop orders"}
		}
	case TypeStopLimit:
		if r.StopPrice <= 0 || r.LimitPrice <= 0 {
			return &ValidationError{Field: "stop_price", Reason: "stop_limit orders need stop and limit prices"}
		}
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown type %q", r.Type)}
	}
	if r.TimeInForce == "" {
		r.TimeInForce = GTC
	}
	switch r.TimeInForce {
	case GTC, IOC, FOK, DAY:
	default:
		return &ValidationError{Field: "time_in_force", Reason: fmt.Sprintf("unknown value %q", r.TimeInForce)}
	}
	return nil
}

// validPrice accepts zero (unset) and finite positive prices.
func validPrice(p float64) bool {
	return p >= 0 && !math.IsInf(p, 0)
}
