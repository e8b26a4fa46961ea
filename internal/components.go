package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/marshver/inkpost/internal/contentstore"
	"github.com/marshver/inkpost/internal/github"
	"github.com/marshver/inkpost/internal/gitstore"
	"github.com/marshver/inkpost/internal/index"
	"github.com/marshver/inkpost/internal/postservice"
	"github.com/marshver/inkpost/internal/storage"
)

// newApplication applies opts and fills in defaults.
func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger initializes the structured JSON logger and makes it the default.
func (a *application) newLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// cacheBranch scopes read cache keys to the content branch.
func (c *StoreConfig) cacheBranch() string {
	if c.Backend == BackendGitHub {
		return c.GitHub.Branch
	}
	return c.Backend
}

// postsDir is the watched directory of the fs backend.
func (c *StoreConfig) postsDir() string {
	return filepath.Join(c.Root, filepath.FromSlash(c.PostsDir))
}

// openRepository builds the configured storage backend. obs is told about
// every Git commit attempt and may be nil.
func openRepository(cfg *StoreConfig, logger *slog.Logger, obs gitstore.Observer) (storage.Repository, error) {
	gitOpts := []gitstore.Option{
		gitstore.WithLogger(logger),
		gitstore.WithRetryPolicy(gitstore.RetryPolicy{MaxAttempts: cfg.MaxAttempts}),
	}
	if obs != nil {
		gitOpts = append(gitOpts, gitstore.WithObserver(obs))
	}

	switch cfg.Backend {
	case BackendFS:
		if err := os.MkdirAll(cfg.postsDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create posts dir: %w", err)
		}
		repo, err := storage.NewFS(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("init fs storage: %w", err)
		}
		return repo, nil
	case BackendGitHub:
		var clientOpts []github.Option
		if cfg.GitHub.BaseURL != "" {
			clientOpts = append(clientOpts, github.WithBaseURL(cfg.GitHub.BaseURL))
		}
		client := github.New(cfg.GitHub.Owner, cfg.GitHub.Repo, cfg.GitHub.Token, clientOpts...)
		return gitstore.New(client, cfg.GitHub.Branch, gitOpts...), nil
	case BackendMemory:
		branch := cfg.GitHub.Branch
		return gitstore.New(gitstore.NewMemory(branch, nil), branch, gitOpts...), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// openPostStore wraps repo with the configured layout.
func openPostStore(cfg *StoreConfig, repo storage.Repository, logger *slog.Logger) *contentstore.Store {
	return contentstore.New(repo,
		contentstore.WithLayout(contentstore.Layout{PostsDir: cfg.PostsDir, IndexPath: cfg.IndexPath}),
		contentstore.WithLogger(logger),
	)
}

// openService opens the search index and builds the post service over it.
// The caller closes the returned database.
func (a *application) openService(logger *slog.Logger, obs gitstore.Observer, opts ...postservice.Option) (*postservice.Service, *index.DB, error) {
	cfg := a.config
	repo, err := openRepository(&cfg.Store, logger, obs)
	if err != nil {
		return nil, nil, err
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init index: %w", err)
	}
	opts = append([]postservice.Option{postservice.WithLogger(logger)}, opts...)
	return postservice.New(openPostStore(&cfg.Store, repo, logger), db, opts...), db, nil
}
