package audit

import (
	"context"
	"sync"
)

// MemorySink keeps entries in process memory. Setting Err makes every
// Append fail with it.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry
	Err     error
}

func (m *MemorySink) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.entries = append(m.entries, e)
	return nil
}

// SetErr swaps the injected failure.
func (m *MemorySink) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// Entries returns a copy of everything appended.
func (m *MemorySink) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

func (m *MemorySink) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.entries[i])
	}
	return out, nil
}

func (m *MemorySink) BySubject(_ context.Context, subject string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}
