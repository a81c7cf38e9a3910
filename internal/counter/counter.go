// Package counter is a small expiring key/value store used for throttling
// counters and one-time codes.
package counter

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Store is the counter-store capability. Keys expire after their TTL.
type Store interface {
	// Incr increments key and returns the new value. A missing or expired
	// key starts a new window of length ttl at 1.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type item struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store.
type Memory struct {
	mu    sync.Mutex
	items map[string]*item
	now   func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithNow(time.Now)
}

func NewMemoryWithNow(now func() time.Time) *Memory {
	return &Memory{items: make(map[string]*item), now: now}
}

// live returns the item for key, dropping it if expired. Callers hold mu.
func (m *Memory) live(key string) *item {
	it, ok := m.items[key]
	if !ok {
		return nil
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return nil
	}
	return it
}

func (m *Memory) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.live(key)
	if it == nil {
		it = &item{value: "0"}
		if ttl > 0 {
			it.expiresAt = m.now().Add(ttl)
		}
		m.items[key] = it
	}
	n, err := strconv.ParseInt(it.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	it.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := m.live(key)
	if it == nil {
		return "", false, nil
	}
	return it.value, true, nil
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := &item{value: value}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Sweep drops every expired key.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.items {
		m.live(key)
	}
}

// Run sweeps expired keys every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored keys, expired ones included until swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
