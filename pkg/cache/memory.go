package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is a process-local Cache.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		items: make(map[string]entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Set(key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *Memory) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		cacheMiss.WithLabelValues(namespace(key)).Inc()
		return nil, false
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.items, key)
		cacheEvictions.WithLabelValues(namespace(key)).Inc()
		cacheMiss.WithLabelValues(namespace(key)).Inc()
		return nil, false
	}

	cacheHits.WithLabelValues(namespace(key)).Inc()
	return e.value, true
}

func (m *Memory) Del(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; ok {
		delete(m.items, key)
		cacheEvictions.WithLabelValues(namespace(key)).Inc()
	}
}

func (m *Memory) DelPattern(glob string) int {
	re := globRegexp(glob)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.items {
		if re.MatchString(key) {
			delete(m.items, key)
			cacheEvictions.WithLabelValues(namespace(key)).Inc()
			removed++
		}
	}
	return removed
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]entry)
}

// Len counts stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
