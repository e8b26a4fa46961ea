// Package ratelimit guards the HTTP surface: a fixed-window request counter
// and a strike-based ban list kept in a kv.Store, plus a per-IP token bucket
// for the public read endpoints.
//
// Counters live in the process (or whatever kv.Store is plugged in); they are
// not shared between instances.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/marshver/inkpost/internal/kv"
)

// Decision is the outcome of Limiter.Allow.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// Limiter allows at most limit requests per key in each fixed window.
type Limiter struct {
	store  kv.Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter or Bans.
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

// NewLimiter returns a fixed-window limiter.
func NewLimiter(store kv.Store, limit int, window time.Duration, opts ...Option) *Limiter {
	return &Limiter{store: store, limit: limit, window: window, now: newOptions(opts).now}
}

// Allow counts one request for key.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	slot := now.UnixNano() / int64(l.window)
	n, err := l.store.Incr(ctx, "rl|"+key+"|"+strconv.FormatInt(slot, 10), l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: count %s: %w", key, err)
	}
	d := Decision{Allowed: n <= int64(l.limit), Count: n, Limit: l.limit}
	if !d.Allowed {
		d.RetryAfter = time.Unix(0, (slot+1)*int64(l.window)).Sub(now)
	}
	return d, nil
}

// Bans bans a key for duration once it collects threshold strikes within
// window.
type Bans struct {
	store     kv.Store
	threshold int
	window    time.Duration
	duration  time.Duration
}

// NewBans returns a ban list.
func NewBans(store kv.Store, threshold int, window, duration time.Duration) *Bans {
	return &Bans{store: store, threshold: threshold, window: window, duration: duration}
}

// Banned reports whether key is currently banned.
func (b *Bans) Banned(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.store.Get(ctx, "ban|"+key)
	if err != nil {
		return false, fmt.Errorf("ratelimit: ban lookup %s: %w", key, err)
	}
	return ok, nil
}

// Strike records a failure for key and reports whether it is now banned.
func (b *Bans) Strike(ctx context.Context, key string) (bool, error) {
	n, err := b.store.Incr(ctx, "ban|strikes|"+key, b.window)
	if err != nil {
		return false, fmt.Errorf("ratelimit: strike %s: %w", key, err)
	}
	if n < int64(b.threshold) {
		return false, nil
	}
	if err := b.store.Set(ctx, "ban|"+key, []byte("1"), b.duration); err != nil {
		return false, fmt.Errorf("ratelimit: ban %s: %w", key, err)
	}
	return true, b.store.Delete(ctx, "ban|strikes|"+key)
}

// Clear forgets the strikes of key.
func (b *Bans) Clear(ctx context.Context, key string) error {
	return b.store.Delete(ctx, "ban|strikes|"+key)
}
