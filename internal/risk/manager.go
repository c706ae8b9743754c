package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Manager evaluates orders against the configured limits. It owns no
// portfolio state; every read goes through the PortfolioReader.
type Manager struct {
	portfolio PortfolioReader
	log       *zap.SugaredLogger

	mu     sync.RWMutex
	limits Limits

	checks     atomic.Uint64
	rejections atomic.Uint64
	byReason   sync.Map // ReasonCode -> *atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a risk manager. Invalid limits are rejected.
func NewManager(limits Limits, portfolio PortfolioReader, opts ...Option) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}
	m := &Manager{portfolio: portfolio, limits: limits, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Limits returns a copy of the active limits.
func (m *Manager) Limits() Limits {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limits
}

// UpdateLimits swaps the limits atomically. Evaluations already running keep
// the snapshot they started with.
func (m *Manager) UpdateLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("risk limits: %w", err)
	}
	m.mu.Lock()
	m.limits = l
	m.mu.Unlock()
	m.log.Infow("risk: limits updated",
		"max_position_size", l.MaxPositionSize,
		"max_daily_loss", l.MaxDailyLoss,
		"max_concentration", l.MaxConcentration)
	return nil
}

// Evaluate runs position, daily loss and concentration checks in that order,
// stopping at the first failure. An error means the portfolio could not be
// read and no decision was made.
func (m *Manager) Evaluate(ctx context.Context, p Proposal) (Decision, error) {
	limits := m.Limits()
	exp, err := m.portfolio.Exposure(ctx, p.Symbol)
	if err != nil {
		return Decision{}, fmt.Errorf("risk: read exposure %s: %w", p.Symbol, err)
	}
	m.checks.Add(1)

	d := Decision{Approved: true, Limits: limits, Exposure: exp}
	newPos := exp.Position + p.SignedQuantity()

	// 1. Position limit
	if limits.MaxPositionSize > 0 && math.Abs(newPos) > limits.MaxPositionSize {
		return m.reject(d, ReasonPositionLimit, fmt.Sprintf(
			"resulting position %.8g exceeds max position size %.8g", math.Abs(newPos), limits.MaxPositionSize)), nil
	}

	// 2. Daily loss limit
	if limits.MaxDailyLoss > 0 && -exp.DailyPnL > limits.MaxDailyLoss {
		return m.reject(d, ReasonDailyLossLimit, fmt.Sprintf(
			"daily loss %.2f exceeds max daily loss %.2f", -exp.DailyPnL, limits.MaxDailyLoss)), nil
	}

	// 3. Concentration limit
	if limits.MaxConcentration > 0 {
		price := referencePrice(p, exp)
		if price > 0 && newPos != 0 {
			value := math.Abs(newPos) * price
			if exp.PortfolioValue <= 0 {
				return m.reject(d, ReasonConcentrationLimit,
					"portfolio value is not positive; no exposure can be added"), nil
			}
			ratio := value / exp.PortfolioValue
			if ratio > limits.MaxConcentration {
				return m.reject(d, ReasonConcentrationLimit, fmt.Sprintf(
					"symbol concentration %.2f%% exceeds max %.2f%%", ratio*100, limits.MaxConcentration*100)), nil
			}
		}
	}

	return d, nil
}

// referencePrice prefers the order's own price, then the mark, then cost basis.
func referencePrice(p Proposal, exp Exposure) float64 {
	switch {
	case p.Price > 0:
		return p.Price
	case exp.MarkPrice > 0:
		return exp.MarkPrice
	default:
		return exp.AvgPrice
	}
}

func (m *Manager) reject(d Decision, code ReasonCode, reason string) Decision {
	d.Approved = false
	d.Code = code
	d.Reason = reason
	m.rejections.Add(1)
	c, _ := m.byReason.LoadOrStore(code, new(atomic.Uint64))
	c.(*atomic.Uint64).Add(1)
	m.log.Infow("risk: rejected", "symbol", d.Exposure.Symbol, "code", code, "reason", reason)
	return d
}

// GetMetrics returns evaluation counters.
func (m *Manager) GetMetrics() Metrics {
	out := Metrics{
		ChecksTotal:     m.checks.Load(),
		RejectionsTotal: m.rejections.Load(),
		ByReason:        make(map[ReasonCode]uint64),
	}
	m.byReason.Range(func(k, v any) bool {
		out.ByReason[k.(ReasonCode)] = v.(*atomic.Uint64).Load()
		return true
	})
	return out
}
