package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marshver/inkpost/internal/postservice"
	"github.com/marshver/inkpost/internal/ratelimit"
	"github.com/marshver/inkpost/internal/readcache"
)

// Default cache lifetimes of the public read routes.
const (
	DefaultListTTL = 60 * time.Second
	DefaultPostTTL = 300 * time.Second
)

type routerConfig struct {
	authEnabled bool
	token       string
	origins     []string
	cache       *readcache.Cache
	listTTL     time.Duration
	postTTL     time.Duration
	buckets     *ratelimit.Buckets
	limiter     *ratelimit.Limiter
	bans        *ratelimit.Bans
	onDeny      ratelimit.DenyFunc
	events      http.Handler
	logger      *slog.Logger
}

// RouterOption configures NewRouter.
type RouterOption func(*routerConfig)

// WithAuth enables Bearer token auth on the admin routes.
func WithAuth(enabled bool, token string) RouterOption {
	return func(c *routerConfig) {
		c.authEnabled = enabled
		c.token = token
	}
}

// WithOrigins sets the CORS allow-list.
func WithOrigins(origins []string) RouterOption {
	return func(c *routerConfig) { c.origins = origins }
}

// WithReadCache caches the public post routes in cache.
func WithReadCache(cache *readcache.Cache, listTTL, postTTL time.Duration) RouterOption {
	return func(c *routerConfig) {
		c.cache = cache
		c.listTTL = listTTL
		c.postTTL = postTTL
	}
}

// WithPublicRateLimit throttles the public routes per client.
func WithPublicRateLimit(b *ratelimit.Buckets) RouterOption {
	return func(c *routerConfig) { c.buckets = b }
}

// WithAdminRateLimit applies a fixed window limit and failed-auth bans to
// the admin routes.
func WithAdminRateLimit(l *ratelimit.Limiter, bans *ratelimit.Bans) RouterOption {
	return func(c *routerConfig) {
		c.limiter = l
		c.bans = bans
	}
}

// WithDenyHook is called for every rate limited or banned request.
func WithDenyHook(fn ratelimit.DenyFunc) RouterOption {
	return func(c *routerConfig) { c.onDeny = fn }
}

// WithEvents mounts the live event stream at GET /admin/events.
func WithEvents(h http.Handler) RouterOption {
	return func(c *routerConfig) { c.events = h }
}

// WithLogger sets the handler logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(c *routerConfig) { c.logger = l }
}

// listPath and postPath key cached reads by the paths the post service
// purges, whatever spelling the request used.
func listPath(*http.Request) string { return postservice.ListPath }

func postPath(r *http.Request) string { return postservice.PostPrefix + slugParam(r) }

// NewRouter creates a chi router with all API routes. It is meant to be
// mounted at /api.
func NewRouter(svc *postservice.Service, opts ...RouterOption) chi.Router {
	cfg := routerConfig{
		listTTL: DefaultListTTL,
		postTTL: DefaultPostTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	h := NewHandler(svc, cfg.logger)

	r := chi.NewRouter()
	r.Use(CORS(cfg.origins))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody("Not found."))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody("Method not allowed."))
	})

	// Public reads.
	r.Group(func(r chi.Router) {
		if cfg.buckets != nil {
			r.Use(cfg.buckets.Middleware(cfg.onDeny))
		}
		list, post := r, r
		if cfg.cache != nil {
			list = r.With(cfg.cache.MiddlewareFor(cfg.listTTL, listPath))
			post = r.With(cfg.cache.MiddlewareFor(cfg.postTTL, postPath))
		}
		list.Get("/posts", h.ListPosts)
		post.Get("/posts/{slug}", h.GetPost)
		r.Get("/search", h.Search)
	})

	// Admin writes.
	r.Route("/admin", func(r chi.Router) {
		if cfg.bans != nil {
			r.Use(cfg.bans.Middleware(cfg.onDeny))
		}
		if cfg.limiter != nil {
			r.Use(cfg.limiter.Middleware(cfg.onDeny))
		}
		r.Use(AuthMiddleware(cfg.authEnabled, cfg.token, cfg.bans, cfg.onDeny, cfg.logger))

		r.Post("/create", h.CreatePost)
		r.Post("/save", h.SavePost)
		r.Post("/delete", h.DeletePost)
		if cfg.events != nil {
			r.Get("/events", cfg.events.ServeHTTP)
		}
	})

	return r
}
