package kv

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Memory is an unbounded in-process Store. Expired entries are hidden on
// read and reclaimed by Sweep.
type Memory struct {
	m   *xsync.MapOf[string, entry]
	now func() time.Time
}

// NewMemory returns an empty store.
func NewMemory(opts ...Option) *Memory {
	return &Memory{m: xsync.NewMapOf[string, entry](), now: newOptions(opts).now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.m.Load(key)
	if !ok || e.expired(m.now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.m.Store(key, entry{value: value, expires: expiry(m.now(), ttl)})
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.m.Delete(k)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := m.now()
	e, _ := m.m.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded || old.expired(now) {
			return entry{count: 1, expires: expiry(now, ttl)}, false
		}
		old.count++
		return old, false
	})
	return e.count, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int { return m.m.Size() }

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.now()
	var stale []string
	m.m.Range(func(k string, e entry) bool {
		if e.expired(now) {
			stale = append(stale, k)
		}
		return true
	})
	dropped := 0
	for _, k := range stale {
		m.m.Compute(k, func(old entry, loaded bool) (entry, bool) {
			if loaded && old.expired(now) {
				dropped++
				return old, true
			}
			return old, !loaded
		})
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
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
