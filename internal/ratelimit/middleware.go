package ratelimit

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
)

// Denial reasons passed to the deny hook.
const (
	ReasonWindow = "window"
	ReasonBurst  = "burst"
	ReasonBanned = "banned"
)

// DenyFunc is called for every rejected request.
type DenyFunc func(reason, client string)

// ClientIP returns the request's client address without the port. Run
// chi's RealIP middleware first when behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

func notify(fn DenyFunc, reason, client string) {
	if fn != nil {
		fn(reason, client)
	}
}

// Middleware rejects clients over the window limit with 429. Counter
// failures let the request through.
func (l *Limiter) Middleware(onDeny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			d, err := l.Allow(r.Context(), ip)
			if err != nil {
				slog.Warn("rate limit check failed", slog.String("error", err.Error()))
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				notify(onDeny, ReasonWindow, ip)
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				deny(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware rejects banned clients with 403.
func (b *Bans) Middleware(onDeny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			banned, err := b.Banned(r.Context(), ip)
			if err != nil {
				slog.Warn("ban check failed", slog.String("error", err.Error()))
			}
			if banned {
				notify(onDeny, ReasonBanned, ip)
				deny(w, http.StatusForbidden, "banned")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware rejects clients with an empty bucket with 429.
func (b *Buckets) Middleware(onDeny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !b.Allow(ip) {
				notify(onDeny, ReasonBurst, ip)
				w.Header().Set("Retry-After", "1")
				deny(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
