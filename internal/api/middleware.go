// Package api implements the inkpost HTTP API using chi.
package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/ratelimit"
)

// CORS echoes allow-listed origins and answers every preflight with 204.
// Requests from other origins get the method and header lists but no
// Access-Control-Allow-Origin.
func CORS(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if o := r.Header.Get("Origin"); o != "" && slices.Contains(origins, o) {
				h.Set("Access-Control-Allow-Origin", o)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")), true
}

// AuthMiddleware returns middleware that validates a Bearer token.
// If enabled is false, all requests pass through (disabled mode).
// With bans set, every rejected token counts as a strike against the client
// address and a successful login clears them.
func AuthMiddleware(enabled bool, token string, bans *ratelimit.Bans, onDeny ratelimit.DenyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			ip := ratelimit.ClientIP(r)
			got, ok := bearer(r)
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				if bans != nil {
					banned, err := bans.Strike(r.Context(), ip)
					if err != nil {
						logger.Warn("auth strike failed", slog.String("error", err.Error()))
					}
					if banned {
						logger.Warn("client banned", slog.String("client", ip))
						if onDeny != nil {
							onDeny(ratelimit.ReasonBanned, ip)
						}
						writeError(w, logger, "auth", apperr.ErrBanned)
						return
					}
				}
				writeError(w, logger, "auth", apperr.ErrUnauthorized)
				return
			}
			if bans != nil {
				if err := bans.Clear(r.Context(), ip); err != nil {
					logger.Warn("auth clear failed", slog.String("error", err.Error()))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
