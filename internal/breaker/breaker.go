// Package breaker guards calls to unreliable dependencies with a
// closed/open/half-open circuit breaker.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrOpen            = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("circuit breaker half-open trial limit reached")
)

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Settings configures a Breaker.
type Settings struct {
	Name        string
	MaxFailures uint32        // consecutive failures that open the breaker
	Timeout     time.Duration // time spent open before probing
	MaxRequests uint32        // concurrent trial calls and successes needed to close

	// IsSuccessful classifies an operation's error. Defaults to treating nil
	// and context.Canceled as success.
	IsSuccessful func(err error) bool
	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// DefaultSettings returns the defaults used for execution breakers.
func DefaultSettings() Settings {
	return Settings{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 1,
	}
}

// Metrics is a read-only snapshot of a breaker.
type Metrics struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	HalfOpenInFlight     uint32    `json:"half_open_in_flight"`
	Requests             uint64    `json:"requests"`
	Successes            uint64    `json:"successes"`
	Failures             uint64    `json:"failures"`
	Rejections           uint64    `json:"rejections"`
	Transitions          uint64    `json:"transitions"`
	LastTransition       time.Time `json:"last_transition"`
}

type transition struct{ from, to State }

// Breaker is safe for concurrent use. Admission and outcome recording each
// happen under one mutex; the guarded operation runs outside it.
type Breaker struct {
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64
	failures   uint32
	successes  uint32
	inFlight   uint32
	changedAt  time.Time

	requests, succeeded, failed, rejected, transitions uint64
}

// New creates a closed breaker. Zero settings fall back to DefaultSettings.
func New(s Settings) *Breaker {
	d := DefaultSettings()
	if s.MaxFailures == 0 {
		s.MaxFailures = d.MaxFailures
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = d.MaxRequests
	}
	if s.IsSuccessful == nil {
		s.IsSuccessful = defaultIsSuccessful
	}
	b := &Breaker{settings: s, now: time.Now}
	b.changedAt = b.now()
	return b
}

func defaultIsSuccessful(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.settings.Name }

// Execute runs fn if the breaker admits the call. When rejected fn is not
// invoked and ErrOpen or ErrTooManyRequests is returned.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			b.done(gen, false)
			panic(r)
		}
	}()
	err = fn()
	b.done(gen, b.settings.IsSuccessful(err))
	return err
}

// Call is Execute for operations that produce a value.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// State reports the current state without side effects. An open breaker whose
// timeout elapsed still reads as open until the next attempt.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Metrics returns a snapshot.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Metrics{
		Name:                 b.settings.Name,
		State:                b.state,
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		HalfOpenInFlight:     b.inFlight,
		Requests:             b.requests,
		Successes:            b.succeeded,
		Failures:             b.failed,
		Rejections:           b.rejected,
		Transitions:          b.transitions,
		LastTransition:       b.changedAt,
	}
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	var moved []transition
	now := b.now()

	if b.state == StateOpen && now.Sub(b.changedAt) >= b.settings.Timeout {
		moved = append(moved, b.setState(StateHalfOpen, now))
	}

	var err error
	switch b.state {
	case StateOpen:
		err = ErrOpen
	case StateHalfOpen:
		// reserve a trial slot; released in done
		if b.inFlight+b.successes >= b.settings.MaxRequests {
			err = ErrTooManyRequests
		} else {
			b.inFlight++
		}
	}
	if err != nil {
		b.rejected++
	} else {
		b.requests++
	}
	gen := b.generation
	b.mu.Unlock()

	b.notify(moved)
	return gen, err
}

func (b *Breaker) done(gen uint64, ok bool) {
	b.mu.Lock()
	var moved []transition
	now := b.now()

	if ok {
		b.succeeded++
	} else {
		b.failed++
	}
	if gen != b.generation {
		// outcome of a call admitted under a previous state
		b.mu.Unlock()
		return
	}

	switch b.state {
	case StateClosed:
		if ok {
			b.failures = 0
		} else {
			b.failures++
			if b.failures >= b.settings.MaxFailures {
				moved = append(moved, b.setState(StateOpen, now))
			}
		}
	case StateHalfOpen:
		b.inFlight--
		if ok {
			b.successes++
			if b.successes >= b.settings.MaxRequests {
				moved = append(moved, b.setState(StateClosed, now))
			}
		} else {
			moved = append(moved, b.setState(StateOpen, now))
		}
	}
	b.mu.Unlock()

	b.notify(moved)
}

// setState must be called with mu held.
func (b *Breaker) setState(to State, now time.Time) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	b.generation++
	b.failures = 0
	b.successes = 0
	b.inFlight = 0
	b.changedAt = now
	b.transitions++
	return t
}

func (b *Breaker) notify(moved []transition) {
	if b.settings.OnStateChange == nil {
		return
	}
	for _, t := range moved {
		b.settings.OnStateChange(b.settings.Name, t.from, t.to)
	}
}
