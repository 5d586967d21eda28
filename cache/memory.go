package cache

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local cache, used when no redis address is configured.
type Memory struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]entry
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Memory{clock: clk, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && !m.clock.Now().Before(e.expires) {
		delete(m.entries, key)
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}
