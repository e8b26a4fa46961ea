// Package readcache is a read-through cache for public GET responses. Entries
// are keyed by branch, request origin and path, and are dropped explicitly
// after every mutation.
package readcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/marshver/inkpost/internal/kv"
)

// Observer is told about every lookup.
type Observer interface {
	CacheLookup(hit bool)
}

// Cache stores rendered responses in a kv.Store.
type Cache struct {
	store    kv.Store
	branch   string
	origins  []string
	logger   *slog.Logger
	observer Observer
	purges   atomic.Uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// New returns a Cache for branch. origins is the CORS allow-list; requests
// from any other origin share the entry of the empty origin.
func New(store kv.Store, branch string, origins []string, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		branch:  branch,
		origins: slices.Clone(origins),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key of path as seen from origin.
func Key(branch, origin, path string) string {
	return "read|" + branch + "|" + origin + "|" + path
}

// genKey holds the last purge marker of path. A response computed while the
// marker changed is not stored.
func genKey(branch, path string) string {
	return "read-gen|" + branch + "|" + path
}

type response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

func (c *Cache) origin(r *http.Request) string {
	o := r.Header.Get("Origin")
	if slices.Contains(c.origins, o) {
		return o
	}
	return ""
}

// Middleware serves GET requests from the cache and stores successful
// responses for ttl, keyed by the request path. Responses are marked
// cacheable by shared caches for the same ttl.
func (c *Cache) Middleware(ttl time.Duration) func(http.Handler) http.Handler {
	return c.MiddlewareFor(ttl, nil)
}

// MiddlewareFor is Middleware with the cached path derived by pathOf, so
// that equivalent request URLs share the entry that Purge drops. A nil
// pathOf uses the request path.
func (c *Cache) MiddlewareFor(ttl time.Duration, pathOf func(*http.Request) string) func(http.Handler) http.Handler {
	cacheControl := "public, max-age=0, s-maxage=" + strconv.Itoa(int(ttl.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			p := r.URL.Path
			if pathOf != nil {
				p = pathOf(r)
			}
			ctx := r.Context()
			key := Key(c.branch, c.origin(r), p)

			if cached, ok := c.lookup(ctx, key); ok {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("Cache-Control", cacheControl)
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(cached.Status)
				_, _ = w.Write(cached.Body)
				return
			}

			gen := c.generation(ctx, p)
			w.Header().Set("Cache-Control", cacheControl)
			w.Header().Set("X-Cache", "MISS")
			rec := &recorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status != http.StatusOK {
				return
			}
			if c.generation(ctx, p) != gen {
				return
			}
			c.save(ctx, key, response{
				Status:      rec.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}, ttl)
			// A purge that landed between the check and the store must
			// still win.
			if c.generation(ctx, p) != gen {
				if err := c.store.Delete(ctx, key); err != nil {
					c.logger.Warn("read cache drop failed", slog.String("key", key), slog.String("error", err.Error()))
				}
			}
		})
	}
}

func (c *Cache) generation(ctx context.Context, path string) string {
	data, _, err := c.store.Get(ctx, genKey(c.branch, path))
	if err != nil {
		// Unknown generation: never store.
		return "?" + strconv.FormatUint(c.purges.Add(1), 10)
	}
	return string(data)
}

func (c *Cache) lookup(ctx context.Context, key string) (response, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("read cache lookup failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	var res response
	if ok && err == nil {
		if err := json.Unmarshal(data, &res); err != nil {
			ok = false
		}
	}
	hit := ok && err == nil
	if c.observer != nil {
		c.observer.CacheLookup(hit)
	}
	return res, hit
}

func (c *Cache) save(ctx context.Context, key string, res response, ttl time.Duration) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("read cache store failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// Purge drops the entries of paths for the empty origin and every allowed
// origin. Responses to requests still in flight for those paths are not
// stored afterwards.
func (c *Cache) Purge(ctx context.Context, paths ...string) error {
	marker := []byte(strconv.FormatUint(c.purges.Add(1), 10))
	keys := make([]string, 0, len(paths)*(len(c.origins)+1))
	for _, p := range paths {
		if err := c.store.Set(ctx, genKey(c.branch, p), marker, 0); err != nil {
			return fmt.Errorf("readcache: purge: %w", err)
		}
		keys = append(keys, Key(c.branch, "", p))
		for _, o := range c.origins {
			keys = append(keys, Key(c.branch, o, p))
		}
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("readcache: purge: %w", err)
	}
	return nil
}

// recorder passes the response through while keeping a copy of it.
type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
