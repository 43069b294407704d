package aggregator_test

import (
	"context"
	"sync"
	"time"

	agg "contact-aggregator/internal/aggregator"
)

// memoryKV is an in-memory KVStore that honours ttls.
type memoryKV struct {
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
	writes  int
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string][]byte{}, expires: map[string]time.Time{}}
}

func (m *memoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
	}
	v, ok := m.values[key]
	if !ok {
		return nil, agg.ErrCacheMiss
	}
	return v, nil
}

func (m *memoryKV) SetAll(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	for key, v := range entries {
		m.values[key] = v
		if ttl > 0 {
			m.expires[key] = time.Now().Add(ttl)
		} else {
			delete(m.expires, key)
		}
	}
	return nil
}

func (m *memoryKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.values, key)
		delete(m.expires, key)
	}
	return nil
}
