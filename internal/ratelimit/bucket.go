package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Buckets holds one token bucket per client with idle eviction.
type Buckets struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond rate.Limit
	burst     int
	ttl       time.Duration
}

// NewBuckets refills perSecond tokens per second up to burst. Idle clients
// are forgotten after ttl.
func NewBuckets(perSecond float64, burst int, ttl time.Duration) *Buckets {
	return &Buckets{
		visitors:  make(map[string]*visitor),
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		ttl:       ttl,
	}
}

// Allow takes one token from the bucket of key.
func (b *Buckets) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(b.perSecond, b.burst)}
		b.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

// Run evicts idle clients every ttl/2 until ctx is done.
func (b *Buckets) Run(ctx context.Context) {
	ticker := time.NewTicker(b.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.evict(now)
		}
	}
}

func (b *Buckets) evict(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range b.visitors {
		if now.Sub(v.lastSeen) > b.ttl {
			delete(b.visitors, k)
		}
	}
}
