package order

import (
	"errors"
	"math"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusOpen, true},
		{StatusPending, StatusFilled, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCancelled, false},
		{StatusOpen, StatusPartiallyFilled, true},
		{StatusOpen, StatusCancelled, true},
		{StatusOpen, StatusRejected, false},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusOpen, false},
		{StatusFilled, StatusCancelled, false},
		{StatusCancelled, StatusOpen, false},
		{StatusRejected, StatusPending, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s)=%v, expected %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestAddFill(t *testing.T) {
	o := Order{Quantity: 1}
	st, err := o.addFill(0.25, 100)
	if err != nil || st != StatusPartiallyFilled {
		t.Fatalf("first fill: status=%s err=%v", st, err)
	}
	st, err = o.addFill(0.75, 120)
	if err != nil || st != StatusFilled {
		t.Fatalf("second fill: status=%s err=%v", st, err)
	}
	if o.FilledQuantity != 1 || o.AvgFillPrice != 115 {
		t.Fatalf("filled=%v avg=%v, expected 1/115", o.FilledQuantity, o.AvgFillPrice)
	}
	if _, err := o.addFill(0.1, 100); !errors.Is(err, ErrOverfill) {
		t.Fatalf("err=%v, expected ErrOverfill", err)
	}
	if _, err := (&Order{Quantity: 1}).addFill(0, 100); !errors.Is(err, ErrInvalidFill) {
		t.Fatalf("err=%v, expected ErrInvalidFill", err)
	}
}

func TestAddFillAbsorbsFloatDrift(t *testing.T) {
	o := Order{Quantity: 0.3}
	_, _ = o.addFill(0.1, 1)
	_, _ = o.addFill(0.1, 1)
	st, err := o.addFill(0.1, 1)
	if err != nil || st != StatusFilled || o.FilledQuantity != 0.3 {
		t.Fatalf("status=%s filled=%v err=%v", st, o.FilledQuantity, err)
	}
}

func TestValidateDefaultsTimeInForce(t *testing.T) {
	r := Request{Symbol: "ETHUSDT", Side: SideSell, Type: TypeStopLimit, Quantity: 1, StopPrice: 10, LimitPrice: 9}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.TimeInForce != GTC {
		t.Fatalf("TimeInForce=%s, expected GTC", r.TimeInForce)
	}

	r.TimeInForce = "GTX"
	var verr *ValidationError
	if err := r.Validate(); !errors.As(err, &verr) || verr.Field != "time_in_force" {
		t.Fatalf("err=%v, expected time_in_force validation error", err)
	}
}

func TestValidateRejectsNonFinitePrices(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"nan limit", Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: math.NaN()}},
		{"inf limit", Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeLimit, Quantity: 1, LimitPrice: math.Inf(1)}},
		{"nan stop", Request{Symbol: "BTCUSDT", Side: SideSell, Type: TypeStop, Quantity: 1, StopPrice: math.NaN()}},
		{"nan limit on market", Request{Symbol: "BTCUSDT", Side: SideBuy, Type: TypeMarket, Quantity: 1, LimitPrice: math.NaN()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verr *ValidationError
			if err := tt.req.Validate(); !errors.As(err, &verr) || verr.Field != "price" {
				t.Fatalf("err=%v, expected price validation error", err)
			}
		})
	}
}
