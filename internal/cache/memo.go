package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Counter reports the size and traffic of one memo table.
type Counter struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

type counter struct {
	entries atomic.Int64
	hits    atomic.Int64
	misses  atomic.Int64
}

func (c *counter) snapshot() Counter {
	return Counter{Entries: int(c.entries.Load()), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// memo is a get-or-create table. Each key is computed at most once:
// concurrent misses share one computation and failures are not stored.
type memo[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
	group   singleflight.Group
	flight  func(K) string
	stats   *counter
}

func newMemo[K comparable, V any](flight func(K) string, stats *counter) *memo[K, V] {
	return &memo[K, V]{
		entries: make(map[K]V),
		flight:  flight,
		stats:   stats,
	}
}

func (m *memo[K, V]) lookup(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// get returns the value for key, computing it with compute on a miss. The
// computation is detached from ctx so one caller giving up does not fail
// the others waiting on it.
func (m *memo[K, V]) get(ctx context.Context, key K, compute func(context.Context) (V, error)) (V, error) {
	if v, ok := m.lookup(key); ok {
		m.stats.hits.Add(1)
		return v, nil
	}

	ch := m.group.DoChan(m.flight(key), func() (any, error) {
		if v, ok := m.lookup(key); ok {
			return v, nil
		}
		m.stats.misses.Add(1)
		v, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return v, err
		}
		m.mu.Lock()
		m.entries[key] = v
		m.mu.Unlock()
		m.stats.entries.Add(1)
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (m *memo[K, V]) keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]K, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	return out
}
