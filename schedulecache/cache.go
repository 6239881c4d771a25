// Package schedulecache memoizes CPM and Monte Carlo results by the
// content hash of their inputs. Reads return a hit only when the stored
// key matches the current network fingerprint; concurrent misses for the
// same fingerprint converge on a single computation whose result is
// shared with every waiter.
package schedulecache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ironclad.dev/dpm/cpm"
	"ironclad.dev/dpm/montecarlo"
)

// Store is the persistence behind the cache. Get must return
// (false, nil) on a miss, not an error.
type Store interface {
	Get(ctx context.Context, key string, value interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache wraps a Store with single-writer-per-key semantics.
type Cache struct {
	store Store
	ttl   time.Duration
	group singleflight.Group
}

// New builds a Cache; a zero ttl means entries do not expire.
func New(store Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

const (
	cpmPrefix = "cpm:"
	simPrefix = "sim:"
)

// CPMResult returns the cached CPM result for the fingerprint, or runs
// compute exactly once across concurrent callers and stores the outcome.
// The returned bool is true on a cache hit. force skips the read but
// still writes the fresh result back.
func (c *Cache) CPMResult(ctx context.Context, fingerprint string, force bool,
	compute func(context.Context) (*cpm.Result, error)) (*cpm.Result, bool, error) {

	key := cpmPrefix + fingerprint
	if !force {
		var cached cpm.Result
		hit, err := c.store.Get(ctx, key, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, res, c.ttl); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*cpm.Result), false, nil
}

// SimulationResult is the Monte Carlo analogue of CPMResult.
func (c *Cache) SimulationResult(ctx context.Context, fingerprint string, force bool,
	compute func(context.Context) (*montecarlo.Result, error)) (*montecarlo.Result, bool, error) {

	key := simPrefix + fingerprint
	if !force {
		var cached montecarlo.Result
		hit, err := c.store.Get(ctx, key, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, key, res, c.ttl); err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*montecarlo.Result), false, nil
}

// Invalidate drops both cached shapes for a fingerprint.
func (c *Cache) Invalidate(ctx context.Context, fingerprint string) error {
	if err := c.store.Delete(ctx, cpmPrefix+fingerprint); err != nil {
		return err
	}
	return c.store.Delete(ctx, simPrefix+fingerprint)
}

// MemoryStore is a map-backed Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string, value interface{}) (bool, error) {
	m.mu.RLock()
	data, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, value)
}

func (m *MemoryStore) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = data
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
