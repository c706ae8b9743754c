// Package cache holds sharded in-memory structures shared across goroutines.
package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % numShards
}

// Quote is the latest observed price for a symbol.
type Quote struct {
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Marks is a sharded symbol -> Quote cache.
type Marks struct {
	shards [numShards]*markShard
	now    func() time.Time
}

type markShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// NewMarks creates an empty cache.
func NewMarks() *Marks {
	c := &Marks{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &markShard{items: make(map[string]Quote)}
	}
	return c
}

// Set stores a quote, stamping it when UpdatedAt is zero.
func (c *Marks) Set(symbol string, q Quote) {
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = c.now()
	}
	s := c.shards[shardIndex(symbol)]
	s.mu.Lock()
	s.items[symbol] = q
	s.mu.Unlock()
}

// SetIfAbsent stores q only when the symbol has no quote yet.
func (c *Marks) SetIfAbsent(symbol string, q Quote) bool {
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = c.now()
	}
	s := c.shards[shardIndex(symbol)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[symbol]; ok {
		return false
	}
	s.items[symbol] = q
	return true
}

// Get returns the quote for symbol.
func (c *Marks) Get(symbol string) (Quote, bool) {
	s := c.shards[shardIndex(symbol)]
	s.mu.RLock()
	q, ok := s.items[symbol]
	s.mu.RUnlock()
	return q, ok
}

// Price returns the last price for symbol.
func (c *Marks) Price(symbol string) (float64, bool) {
	q, ok := c.Get(symbol)
	return q.Price, ok
}

// Age reports how old the quote is.
func (c *Marks) Age(symbol string) (time.Duration, bool) {
	q, ok := c.Get(symbol)
	if !ok {
		return 0, false
	}
	return c.now().Sub(q.UpdatedAt), true
}

// Len returns the number of symbols across shards.
func (c *Marks) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += len(s.items)
		s.mu.RUnlock()
	}
	return total
}

// Evict removes quotes older than maxAge and returns how many were dropped.
func (c *Marks) Evict(maxAge time.Duration) int {
	removed := 0
	cutoff := c.now().Add(-maxAge)
	for _, s := range c.shards {
		s.mu.Lock()
		for sym, q := range s.items {
			if q.UpdatedAt.Before(cutoff) {
				delete(s.items, sym)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// All returns a copy of every quote.
func (c *Marks) All() map[string]Quote {
	out := make(map[string]Quote)
	for _, s := range c.shards {
		s.mu.RLock()
		for sym, q := range s.items {
			out[sym] = q
		}
		s.mu.RUnlock()
	}
	return out
}
