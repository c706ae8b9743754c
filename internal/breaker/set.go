package breaker

import (
	"sort"
	"sync"
)

// Set is a registry of named breakers sharing default settings.
type Set struct {
	mu       sync.Mutex
	defaults Settings
	items    map[string]*Breaker
}

// NewSet creates an empty registry. defaults.Name is ignored.
func NewSet(defaults Settings) *Set {
	return &Set{defaults: defaults, items: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *Set) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.items[name]; ok {
		return b
	}
	cfg := s.defaults
	cfg.Name = name
	b := New(cfg)
	s.items[name] = b
	return b
}

// Lookup returns an existing breaker.
func (s *Set) Lookup(name string) (*Breaker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.items[name]
	return b, ok
}

// Snapshot returns metrics for every breaker sorted by name.
func (s *Set) Snapshot() []Metrics {
	s.mu.Lock()
	list := make([]*Breaker, 0, len(s.items))
	for _, b := range s.items {
		list = append(list, b)
	}
	s.mu.Unlock()

	out := make([]Metrics, 0, len(list))
	for _, b := range list {
		out = append(out, b.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
