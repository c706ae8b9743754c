package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber queue capacity when none is configured.
const DefaultBufferSize = 256

// ErrClosed is returned by Publish and Subscribe once the bus has been closed.
var ErrClosed = errors.New("event bus closed")

// Config tunes the bus.
type Config struct {
	// BufferSize is the capacity of each subscriber queue.
	BufferSize int
}

// KindMetrics is a snapshot of the counters for one kind.
type KindMetrics struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

type counters struct {
	published atomic.Uint64
	dropped   atomic.Uint64
}

// Bus is a non-blocking pub/sub broker. Every subscriber owns a bounded
// queue; a full queue drops the event for that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]*Subscription
	closed bool
	buffer int

	stats map[Kind]*counters
}

// NewBus creates an event bus.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	b := &Bus{
		subs:   make(map[Kind][]*Subscription),
		buffer: cfg.BufferSize,
		stats:  make(map[Kind]*counters),
	}
	for _, k := range Kinds() {
		b.stats[k] = &counters{}
	}
	return b
}

// Subscription is one consumer's queue for a single kind.
type Subscription struct {
	bus     *Bus
	kind    Kind
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a listener for kind.
func (b *Bus) Subscribe(kind Kind) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.stats[kind]; !ok {
		return nil, errors.New("unknown event kind " + string(kind))
	}
	sub := &Subscription{bus: b, kind: kind, ch: make(chan Event, b.buffer)}
	b.subs[kind] = append(b.subs[kind], sub)
	return sub, nil
}

// Publish fans ev out to every subscriber of its kind without blocking.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	c, ok := b.stats[ev.kind]
	if !ok {
		return ErrInvalidEvent
	}
	c.published.Add(1)
	for _, sub := range b.subs[ev.kind] {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			c.dropped.Add(1)
		}
	}
	return nil
}

// Emit builds an event from p and publishes it.
func (b *Bus) Emit(p Payload) error {
	ev, err := New(p)
	if err != nil {
		return err
	}
	return b.Publish(ev)
}

// Close stops the bus. In-flight publishes finish first; subscriber queues
// are then closed so consumers drain what is buffered and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for kind, subs := range b.subs {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.subs, kind)
	}
}

// Metrics returns per-kind counters.
func (b *Bus) Metrics() map[Kind]KindMetrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[Kind]KindMetrics, len(b.stats))
	for k, c := range b.stats {
		out[k] = KindMetrics{
			Published:   c.published.Load(),
			Dropped:     c.dropped.Load(),
			Subscribers: len(b.subs[k]),
		}
	}
	return out
}

// Kind is the kind this subscription receives.
func (s *Subscription) Kind() Kind { return s.kind }

// C exposes the receive side of the queue. It is closed on Unsubscribe or
// when the bus closes.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped counts events discarded because this queue was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Next blocks for the next event. ok is false once the queue is closed and
// drained, or when ctx ends.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return Event{}, false
	}
}

// Range calls fn for every event until the queue closes or ctx ends.
func (s *Subscription) Range(ctx context.Context, fn func(Event)) {
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			return
		}
		fn(ev)
	}
}

// Unsubscribe detaches the subscription and closes its queue.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[s.kind]
	for i, c := range subs {
		if c == s {
			b.subs[s.kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	s.once.Do(func() { close(s.ch) })
}
