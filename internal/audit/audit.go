// Package audit records every order transition, risk decision, breaker
// transition and signal disposition to an append-only sink.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSinkUnavailable wraps every sink failure surfaced by Record.
var ErrSinkUnavailable = errors.New("audit sink unavailable")

// Category groups audit entries.
type Category string

const (
	CategoryOrder   Category = "order"
	CategoryRisk    Category = "risk_decision"
	CategoryBreaker Category = "breaker_transition"
	CategorySignal  Category = "signal"
)

// Entry is one immutable audit record.
type Entry struct {
	Seq       uint64         `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Category  Category       `json:"category"`
	Subject   string         `json:"subject"` // order id, breaker name, symbol
	Outcome   string         `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Sink persists entries. Append must be durable when it returns nil.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Initializer is implemented by sinks that need schema or bucket setup.
type Initializer interface {
	Init(ctx context.Context) error
}

// Reader is implemented by sinks that can read entries back.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Entry, error)
	BySubject(ctx context.Context, subject string) ([]Entry, error)
}

type seqReader interface {
	LastSeq(ctx context.Context) (uint64, error)
}

// Logger stamps entries and appends them synchronously.
type Logger struct {
	sink Sink
	now  func() time.Time
	log  *zap.SugaredLogger

	mu   sync.Mutex
	seq  uint64
	last time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets the logger used to report sink failures.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *Logger) { a.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Logger) { a.now = now }
}

// NewLogger wraps sink.
func NewLogger(sink Sink, opts ...Option) *Logger {
	l := &Logger{sink: sink, now: time.Now, log: zap.NewNop().Sugar()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Init prepares the sink and resumes the sequence after the last stored entry.
// It must run once before the first Record.
func (l *Logger) Init(ctx context.Context) error {
	if in, ok := l.sink.(Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return fmt.Errorf("%w: init: %v", ErrSinkUnavailable, err)
		}
	}
	if sr, ok := l.sink.(seqReader); ok {
		seq, err := sr.LastSeq(ctx)
		if err != nil {
			return fmt.Errorf("%w: last seq: %v", ErrSinkUnavailable, err)
		}
		l.mu.Lock()
		l.seq = seq
		l.mu.Unlock()
	}
	return nil
}

// Record stamps e with a timestamp and the next sequence number and appends
// it. A sink failure is returned, never swallowed.
func (l *Logger) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Category == "" || e.Subject == "" || e.Outcome == "" {
		return Entry{}, errors.New("audit: category, subject and outcome are required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if ts.Before(l.last) {
		ts = l.last
	}
	e.Timestamp = ts
	e.Seq = l.seq + 1

	if err := l.sink.Append(ctx, e); err != nil {
		l.log.Errorw("audit: append failed", "category", e.Category, "subject", e.Subject, "outcome", e.Outcome, "error", err)
		return Entry{}, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	l.seq = e.Seq
	l.last = ts
	return e, nil
}

// Recent returns the newest entries when the sink supports reads.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	r, ok := l.sink.(Reader)
	if !ok {
		return nil, errors.New("audit: sink does not support reads")
	}
	return r.Recent(ctx, limit)
}

// BySubject returns the entries for one subject in write order.
func (l *Logger) BySubject(ctx context.Context, subject string) ([]Entry, error) {
	r, ok := l.sink.(Reader)
	if !ok {
		return nil, errors.New("audit: sink does not support reads")
	}
	return r.BySubject(ctx, subject)
}
