package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marshver/inkpost/internal/kv"
)

func TestLimiter_FixedWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	l := NewLimiter(kv.NewMemory(kv.WithClock(clock)), 3, time.Minute, WithClock(clock))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Allow(ctx, "1.2.3.4")
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: %+v, %v", i, d, err)
		}
	}
	d, _ := l.Allow(ctx, "1.2.3.4")
	if d.Allowed || d.Count != 4 {
		t.Errorf("4th request = %+v, want denied", d)
	}
	// 1000s is 40s into the minute starting at 960s.
	if d.RetryAfter != 20*time.Second {
		t.Errorf("RetryAfter = %v", d.RetryAfter)
	}
	if d, _ := l.Allow(ctx, "5.6.7.8"); !d.Allowed {
		t.Error("other clients have their own counter")
	}

	now = now.Add(20 * time.Second)
	if d, _ := l.Allow(ctx, "1.2.3.4"); !d.Allowed || d.Count != 1 {
		t.Errorf("next window = %+v", d)
	}
}

func TestBans_StrikesThenBan(t *testing.T) {
	now := time.Unix(0, 0)
	store := kv.NewMemory(kv.WithClock(func() time.Time { return now }))
	b := NewBans(store, 3, time.Minute, time.Hour)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if banned, err := b.Strike(ctx, "ip"); err != nil || banned {
			t.Fatalf("strike %d: %v, %v", i+1, banned, err)
		}
	}
	if banned, _ := b.Strike(ctx, "ip"); !banned {
		t.Fatal("third strike should ban")
	}
	if banned, _ := b.Banned(ctx, "ip"); !banned {
		t.Error("Banned = false")
	}
	now = now.Add(time.Hour)
	if banned, _ := b.Banned(ctx, "ip"); banned {
		t.Error("ban should expire")
	}
}

func TestBans_Clear(t *testing.T) {
	b := NewBans(kv.NewMemory(), 2, time.Minute, time.Hour)
	ctx := context.Background()
	_, _ = b.Strike(ctx, "ip")
	_ = b.Clear(ctx, "ip")
	if banned, _ := b.Strike(ctx, "ip"); banned {
		t.Error("strikes should restart after Clear")
	}
}

func TestBuckets_Burst(t *testing.T) {
	b := NewBuckets(1, 2, time.Minute)
	if !b.Allow("a") || !b.Allow("a") {
		t.Fatal("burst should be allowed")
	}
	if b.Allow("a") {
		t.Error("third request should be denied")
	}
	if !b.Allow("b") {
		t.Error("separate bucket per client")
	}
	b.evict(time.Now().Add(2 * time.Minute))
	if len(b.visitors) != 0 {
		t.Errorf("visitors = %d after eviction", len(b.visitors))
	}
}

func TestMiddleware_Rejections(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	var reasons []string
	onDeny := func(reason, _ string) { reasons = append(reasons, reason) }

	store := kv.NewMemory()
	bans := NewBans(store, 1, time.Minute, time.Hour)
	h := bans.Middleware(onDeny)(NewLimiter(store, 1, time.Minute).Middleware(onDeny)(ok))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/save", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("10.0.0.1:1234"); rec.Code != http.StatusNoContent {
		t.Fatalf("first = %d", rec.Code)
	}
	rec := do("10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Errorf("second = %d, Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	_, _ = bans.Strike(context.Background(), "10.0.0.2")
	if rec := do("10.0.0.2:1"); rec.Code != http.StatusForbidden || rec.Body.String() != `{"error":"banned"}` {
		t.Errorf("banned = %d %s", rec.Code, rec.Body.String())
	}
	if len(reasons) != 2 || reasons[0] != ReasonWindow || reasons[1] != ReasonBanned {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	if got := ClientIP(req); got != "::1" {
		t.Errorf("ClientIP = %q", got)
	}
	req.RemoteAddr = "203.0.113.9"
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Errorf("ClientIP without port = %q", got)
	}
}
