package order

import "context"

// Execution is what a broker reports for an order. Quantity 0 means the
// order was accepted and is resting.
type Execution struct {
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Fee          float64 `json:"fee"`
	VenueOrderID string  `json:"venue_order_id,omitempty"`
}

// Broker sends orders to an execution venue. Calls are wrapped by the
// engine's circuit breaker; ctx carries the caller's deadline.
type Broker interface {
	Execute(ctx context.Context, o Order) (Execution, error)
}

// Canceler is implemented by brokers that can withdraw working orders.
type Canceler interface {
	Cancel(ctx context.Context, o Order) error
}

// Restorer is implemented by brokers that need working orders re-seeded
// after a restart.
type Restorer interface {
	Restore(o Order)
}

// PriceSource supplies reference prices.
type PriceSource interface {
	Mark(symbol string) (float64, bool)
}
