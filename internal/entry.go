// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/marshver/inkpost/internal/api"
	"github.com/marshver/inkpost/internal/index"
	"github.com/marshver/inkpost/internal/kv"
	"github.com/marshver/inkpost/internal/mcpserver"
	"github.com/marshver/inkpost/internal/metrics"
	"github.com/marshver/inkpost/internal/postservice"
	"github.com/marshver/inkpost/internal/ratelimit"
	"github.com/marshver/inkpost/internal/readcache"
	"github.com/marshver/inkpost/internal/sse"
)

const (
	indexThrottle = 2 * time.Second
	sweepInterval = time.Minute
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.newLogger()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("auth_enabled", cfg.Auth.AuthEnabled()),
		slog.String("log_level", cfg.App.LogLevel.String()))

	m := metrics.New()

	// SSE broker.
	broker := sse.NewBroker(indexThrottle,
		sse.WithLogger(logger),
		sse.WithClientsObserver(m.SetSSEClients),
	)
	defer broker.Close()

	svcOpts := []postservice.Option{
		postservice.WithEvents(broker),
		postservice.WithObserver(m),
	}

	// Public read cache.
	var (
		cache    *readcache.Cache
		cacheKV  kv.Store
		cacheMem *kv.Memory
	)
	if cfg.Cache.Enabled {
		if cfg.Cache.MaxEntries > 0 {
			lru, err := kv.NewLRU(cfg.Cache.MaxEntries)
			if err != nil {
				return fmt.Errorf("init read cache: %w", err)
			}
			cacheKV = lru
		} else {
			cacheMem = kv.NewMemory()
			cacheKV = cacheMem
		}
		cache = readcache.New(cacheKV, cfg.Store.cacheBranch(), cfg.CORS.Origins,
			readcache.WithLogger(logger),
			readcache.WithObserver(m),
		)
		svcOpts = append(svcOpts, postservice.WithCache(cache))
	}

	svc, db, err := app.openService(logger, m, svcOpts...)
	if err != nil {
		return err
	}
	defer db.Close()

	// Run initial sync.
	if _, _, err := svc.SyncSearch(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	// Build API router.
	routerOpts := []api.RouterOption{
		api.WithAuth(cfg.Auth.AuthEnabled(), cfg.Auth.Token),
		api.WithOrigins(cfg.CORS.Origins),
		api.WithEvents(broker),
		api.WithLogger(logger),
		api.WithDenyHook(func(reason, client string) {
			m.IncRateLimited(reason)
			logger.Warn("request denied", slog.String("reason", reason), slog.String("client", client))
		}),
	}
	if cache != nil {
		routerOpts = append(routerOpts, api.WithReadCache(cache, cfg.Cache.ListTTL, cfg.Cache.PostTTL))
	}

	var (
		buckets *ratelimit.Buckets
		limitKV *kv.Memory
	)
	if rl := cfg.RateLimit; rl.Enabled {
		limitKV = kv.NewMemory()
		buckets = ratelimit.NewBuckets(rl.PublicRate, rl.PublicBurst, rl.IdleClientTTL)
		routerOpts = append(routerOpts,
			api.WithPublicRateLimit(buckets),
			api.WithAdminRateLimit(
				ratelimit.NewLimiter(limitKV, rl.AdminLimit, rl.AdminWindow),
				ratelimit.NewBans(limitKV, rl.BanThreshold, rl.BanWindow, rl.BanDuration),
			),
		)
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := db.Count(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", m.Handler())

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(svc, routerOpts...))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Follow edits made directly in a local checkout.
	if cfg.Store.Backend == BackendFS && cfg.Store.Watch {
		g.Go(func() error {
			err := index.Watch(gCtx, db, svc.Store(), cfg.Store.postsDir(), path.Base(cfg.Store.IndexPath), logger, svc.ExternalChange)
			if err != nil {
				logger.Error("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Expire cache and rate limit entries.
	if cacheMem != nil {
		g.Go(func() error {
			cacheMem.Run(gCtx, sweepInterval)
			return nil
		})
	}
	if limitKV != nil {
		g.Go(func() error {
			limitKV.Run(gCtx, sweepInterval)
			return nil
		})
		g.Go(func() error {
			buckets.Run(gCtx)
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Ends open event streams so Shutdown does not wait on them.
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so background loops stop with the server.
var errShutdown = errors.New("shutdown")

// Reindex rebuilds the persisted post index from the post files, commits it
// when it changed, and resynchronizes the search index.
func Reindex(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.newLogger()

	svc, db, err := app.openService(logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := svc.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	logger.Info("post index rebuilt", slog.Int("posts", len(entries)))
	return nil
}

// ServeMCP serves the post tools over stdio until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := app.newLogger()

	svc, db, err := app.openService(logger, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, _, err := svc.SyncSearch(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	logger.Info("MCP server starting on stdio", slog.String("version", app.version))
	return mcpserver.New(svc, app.version).ServeStdio()
}
