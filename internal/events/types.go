package events

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind enumerates the topics carried by the bus.
type Kind string

const (
	KindMarketData Kind = "market_data"
	KindSignal     Kind = "signal"
	KindOrder      Kind = "order"
	KindFill       Kind = "fill"
	KindSystem     Kind = "system"
)

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindMarketData, KindSignal, KindOrder, KindFill, KindSystem}
}

// ParseKind maps a wire name to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}

// ErrInvalidEvent is returned by New when a payload is structurally malformed.
var ErrInvalidEvent = errors.New("invalid event")

// Payload is implemented only by the payload types of this package.
type Payload interface {
	Kind() Kind
	validate() error
}

// Event is an immutable message on the bus.
type Event struct {
	kind    Kind
	symbol  string
	at      time.Time
	payload Payload
}

// New builds an event stamped with the current time.
func New(p Payload) (Event, error) {
	return NewAt(p, time.Now().UTC())
}

// NewAt builds an event with an explicit timestamp.
func NewAt(p Payload, at time.Time) (Event, error) {
	if p == nil {
		return Event{}, fmt.Errorf("%w: nil payload", ErrInvalidEvent)
	}
	if err := p.validate(); err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, p.Kind(), err)
	}
	ev := Event{kind: p.Kind(), at: at, payload: p}
	if s, ok := p.(interface{ symbol() string }); ok {
		ev.symbol = s.symbol()
	}
	return ev, nil
}

// MustNew is New for payloads built from trusted values.
func MustNew(p Payload) Event {
	ev, err := New(p)
	if err != nil {
		panic(err)
	}
	return ev
}

func (e Event) Kind() Kind { return e.kind }
func (e Event) Symbol() string { return e.symbol }
func (e Event) Timestamp() time.Time { return e.at }
func (e Event) Payload() Payload { return e.payload }

func (e Event) MarketData() (MarketData, bool) {
	p, ok := e.payload.(MarketData)
	return p, ok
}

func (e Event) Signal() (Signal, bool) {
	p, ok := e.payload.(Signal)
	return p, ok
}

func (e Event) Order() (OrderUpdate, bool) {
	p, ok := e.payload.(OrderUpdate)
	return p, ok
}

func (e Event) Fill() (Fill, bool) {
	p, ok := e.payload.(Fill)
	return p, ok
}

func (e Event) System() (System, bool) {
	p, ok := e.payload.(System)
	return p, ok
}

// MarketData is a price observation for one symbol.
type MarketData struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Bid    float64 `json:"bid,omitempty"`
	Ask    float64 `json:"ask,omitempty"`
	Volume float64 `json:"volume,omitempty"`
}

func (MarketData) Kind() Kind { return KindMarketData }
func (m MarketData) symbol() string { return m.Symbol }
func (m MarketData) validate() error {
	if m.Symbol == "" {
		return errors.New("symbol required")
	}
	if !positive(m.Price) {
		return errors.New("price must be positive")
	}
	if !nonNegative(m.Bid) || !nonNegative(m.Ask) || !nonNegative(m.Volume) {
		return errors.New("bid, ask and volume must be non-negative")
	}
	return nil
}

// SignalAction is the direction a strategy recommends.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
	ActionHold SignalAction = "hold"
)

// Signal is a strategy recommendation.
type Signal struct {
	StrategyID string       `json:"strategy_id"`
	Symbol     string       `json:"symbol"`
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"`
	Quantity   float64      `json:"quantity,omitempty"`
	Price      float64      `json:"price,omitempty"`
	Note       string       `json:"note,omitempty"`
}

func (Signal) Kind() Kind { return KindSignal }
func (s Signal) symbol() string { return s.Symbol }
func (s Signal) validate() error {
	if s.Symbol == "" {
		return errors.New("symbol required")
	}
	switch s.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("unknown action %q", s.Action)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return errors.New("confidence must be within [0,1]")
	}
	if !nonNegative(s.Quantity) || !nonNegative(s.Price) {
		return errors.New("quantity and price must be non-negative")
	}
	return nil
}

// OrderUpdate describes an order after a lifecycle transition.
type OrderUpdate struct {
	OrderID        string  `json:"order_id"`
	StrategyID     string  `json:"strategy_id,omitempty"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	PreviousStatus string  `json:"previous_status,omitempty"`
	Status         string  `json:"status"`
	Quantity       float64 `json:"quantity"`
	FilledQuantity float64 `json:"filled_quantity"`
	AvgFillPrice   float64 `json:"avg_fill_price,omitempty"`
	ReasonCode     string  `json:"reason_code,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

func (OrderUpdate) Kind() Kind { return KindOrder }
func (o OrderUpdate) symbol() string { return o.Symbol }
func (o OrderUpdate) validate() error {
	if o.OrderID == "" || o.Status == "" {
		return errors.New("order id and status required")
	}
	if o.FilledQuantity < 0 || o.FilledQuantity > o.Quantity {
		return errors.New("filled quantity out of range")
	}
	return nil
}

// Fill reports an execution against an order.
type Fill struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Fee      float64 `json:"fee,omitempty"`
	Final    bool    `json:"final"`
}

func (Fill) Kind() Kind { return KindFill }
func (f Fill) symbol() string { return f.Symbol }
func (f Fill) validate() error {
	if f.OrderID == "" || f.Symbol == "" {
		return errors.New("order id and symbol required")
	}
	if !positive(f.Quantity) || !positive(f.Price) {
		return errors.New("quantity and price must be positive")
	}
	return nil
}

// Level grades a System event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// System carries operational notices such as breaker transitions.
type System struct {
	Component string            `json:"component"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func (System) Kind() Kind { return KindSystem }
func (s System) validate() error {
	if s.Component == "" || s.Message == "" {
		return errors.New("component and message required")
	}
	switch s.Level {
	case LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("unknown level %q", s.Level)
	}
	return nil
}

func positive(v float64) bool { return v > 0 && !math.IsInf(v, 0) }
func nonNegative(v float64) bool { return v >= 0 && !math.IsInf(v, 0) }
