package cache

import "sync"

// KeyedMutex hands out one mutex per key. Entries are reference counted and
// removed when no goroutine holds or waits on them.
type KeyedMutex struct {
	shards [numShards]*lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty lock table.
func NewKeyedMutex() *KeyedMutex {
	k := &KeyedMutex{}
	for i := range k.shards {
		k.shards[i] = &lockShard{locks: make(map[string]*keyLock)}
	}
	return k
}

// Lock blocks until key is held and returns the matching unlock.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	s := k.shards[shardIndex(key)]
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(s.locks, key)
			}
			s.mu.Unlock()
		})
	}
}

// Held returns the number of keys currently locked or awaited.
func (k *KeyedMutex) Held() int {
	n := 0
	for _, s := range k.shards {
		s.mu.Lock()
		n += len(s.locks)
		s.mu.Unlock()
	}
	return n
}
