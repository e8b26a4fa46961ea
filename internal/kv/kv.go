// Package kv is the small key-value primitive shared by the read cache and
// the rate limiter: byte values with a per-key TTL and an atomic counter.
package kv

import (
	"context"
	"time"
)

// Store is a key-value store with expiring entries. A zero ttl means the
// entry never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr adds one to the counter at key and returns the new value. The
	// ttl only applies when the counter is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type entry struct {
	value   []byte
	count   int64
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
