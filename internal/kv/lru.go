package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU is a Store bounded to a fixed number of entries; the least recently
// used entry is evicted first.
type LRU struct {
	mu    sync.Mutex
	cache *lru.Cache[string, entry]
	now   func() time.Time
}

// NewLRU returns a store holding at most size entries.
func NewLRU(size int, opts ...Option) (*LRU, error) {
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("kv: lru: %w", err)
	}
	return &LRU{cache: c, now: newOptions(opts).now}, nil
}

func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if e.expired(l.now()) {
		l.cache.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (l *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(key, entry{value: value, expires: expiry(l.now(), ttl)})
	return nil
}

func (l *LRU) Delete(_ context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		l.cache.Remove(k)
	}
	return nil
}

func (l *LRU) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	e, ok := l.cache.Get(key)
	if !ok || e.expired(now) {
		e = entry{expires: expiry(now, ttl)}
	}
	e.count++
	l.cache.Add(key, e)
	return e.count, nil
}

// Len returns the number of stored entries.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}
