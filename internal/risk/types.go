package risk

import (
	"context"
	"errors"
	"fmt"
)

// ReasonCode identifies which check rejected an order.
type ReasonCode string

const (
	ReasonPositionLimit      ReasonCode = "position_limit"
	ReasonDailyLossLimit     ReasonCode = "daily_loss_limit"
	ReasonConcentrationLimit ReasonCode = "concentration_limit"
)

// Side mirrors the order side without importing the order package.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Limits defines the pre-trade thresholds. A zero value disables a check.
type Limits struct {
	MaxPositionSize  float64 `json:"max_position_size" yaml:"max_position_size"` // absolute units per symbol
	MaxDailyLoss     float64 `json:"max_daily_loss" yaml:"max_daily_loss"`       // quote currency, positive
	MaxConcentration float64 `json:"max_concentration" yaml:"max_concentration"` // 0.0 - 1.0 of portfolio value
}

// DefaultLimits returns conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionSize:  100,
		MaxDailyLoss:     1000,
		MaxConcentration: 0.25,
	}
}

// Validate rejects negative or out-of-range thresholds.
func (l Limits) Validate() error {
	if l.MaxPositionSize < 0 {
		return errors.New("max_position_size must be >= 0")
	}
	if l.MaxDailyLoss < 0 {
		return errors.New("max_daily_loss must be >= 0")
	}
	if l.MaxConcentration < 0 || l.MaxConcentration > 1 {
		return fmt.Errorf("max_concentration must be within [0,1], got %v", l.MaxConcentration)
	}
	return nil
}

// Proposal is the order under evaluation.
type Proposal struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price,omitempty"` // limit price when known
}

// SignedQuantity is positive for buys and negative for sells.
func (p Proposal) SignedQuantity() float64 {
	if p.Side == SideSell {
		return -p.Quantity
	}
	return p.Quantity
}

// Exposure is the portfolio state the checks read.
type Exposure struct {
	Symbol         string  `json:"symbol"`
	Position       float64 `json:"position"`        // signed quantity
	AvgPrice       float64 `json:"avg_price"`       // cost basis of the position
	MarkPrice      float64 `json:"mark_price"`      // 0 when unknown
	PortfolioValue float64 `json:"portfolio_value"` // cash plus marked positions
	DailyPnL       float64 `json:"daily_pnl"`       // realized plus unrealized for the day
}

// PortfolioReader supplies exposure snapshots.
type PortfolioReader interface {
	Exposure(ctx context.Context, symbol string) (Exposure, error)
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Approved bool       `json:"approved"`
	Code     ReasonCode `json:"code,omitempty"`
	Reason   string     `json:"reason,omitempty"`
	Limits   Limits     `json:"limits"`
	Exposure Exposure   `json:"exposure"`
}

// Metrics tracks evaluation counters.
type Metrics struct {
	ChecksTotal     uint64                `json:"checks_total"`
	RejectionsTotal uint64                `json:"rejections_total"`
	ByReason        map[ReasonCode]uint64 `json:"by_reason"`
}
