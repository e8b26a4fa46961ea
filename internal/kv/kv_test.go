package kv

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func stores(t *testing.T) (map[string]Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l, err := NewLRU(16, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return map[string]Store{
		"memory": NewMemory(WithClock(clock.Now)),
		"lru":    l,
	}, clock
}

func TestStore_SetGetDelete(t *testing.T) {
	all, _ := stores(t)
	ctx := context.Background()
	for name, s := range all {
		if err := s.Set(ctx, "a", []byte("1"), 0); err != nil {
			t.Fatalf("%s: Set: %v", name, err)
		}
		v, ok, err := s.Get(ctx, "a")
		if err != nil || !ok || string(v) != "1" {
			t.Errorf("%s: Get = %q, %v, %v", name, v, ok, err)
		}
		if err := s.Delete(ctx, "a", "missing"); err != nil {
			t.Fatalf("%s: Delete: %v", name, err)
		}
		if _, ok, _ := s.Get(ctx, "a"); ok {
			t.Errorf("%s: key survived Delete", name)
		}
	}
}

func TestStore_TTL(t *testing.T) {
	all, clock := stores(t)
	ctx := context.Background()
	for _, s := range all {
		_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	}
	clock.Advance(59 * time.Second)
	for name, s := range all {
		if _, ok, _ := s.Get(ctx, "k"); !ok {
			t.Errorf("%s: entry expired early", name)
		}
	}
	clock.Advance(time.Second)
	for name, s := range all {
		if _, ok, _ := s.Get(ctx, "k"); ok {
			t.Errorf("%s: entry outlived its ttl", name)
		}
	}
}

func TestStore_IncrWindow(t *testing.T) {
	all, clock := stores(t)
	ctx := context.Background()
	for name, s := range all {
		for want := int64(1); want <= 3; want++ {
			got, err := s.Incr(ctx, "c", time.Minute)
			if err != nil || got != want {
				t.Fatalf("%s: Incr = %d, %v, want %d", name, got, err, want)
			}
		}
	}
	clock.Advance(time.Minute)
	for name, s := range all {
		if got, _ := s.Incr(ctx, "c", time.Minute); got != 1 {
			t.Errorf("%s: Incr after expiry = %d, want 1", name, got)
		}
	}
}

func TestMemory_IncrConcurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Incr(ctx, "n", 0)
		}()
	}
	wg.Wait()
	if got, _ := m.Incr(ctx, "n", 0); got != 51 {
		t.Errorf("counter = %d, want 51", got)
	}
}

func TestMemory_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	m := NewMemory(WithClock(clock.Now))
	ctx := context.Background()
	_ = m.Set(ctx, "short", nil, time.Second)
	_ = m.Set(ctx, "forever", nil, 0)
	clock.Advance(2 * time.Second)
	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep dropped %d, want 1", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestLRU_EvictsOldest(t *testing.T) {
	l, err := NewLRU(2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = l.Set(ctx, "a", []byte("a"), 0)
	_ = l.Set(ctx, "b", []byte("b"), 0)
	_, _, _ = l.Get(ctx, "a")
	_ = l.Set(ctx, "c", []byte("c"), 0)
	if _, ok, _ := l.Get(ctx, "b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok, _ := l.Get(ctx, "a"); !ok {
		t.Error("a was recently used and should stay")
	}
}

func TestNewLRU_InvalidSize(t *testing.T) {
	if _, err := NewLRU(0); err == nil {
		t.Error("expected error for size 0")
	}
}
