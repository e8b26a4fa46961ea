// Package contentstore is the post store: one Markdown file per slug plus a
// JSON index of their metadata, kept consistent by writing both in the same
// commit.
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marshver/inkpost/internal/frontmatter"
	"github.com/marshver/inkpost/internal/models"
	"github.com/marshver/inkpost/internal/postindex"
	"github.com/marshver/inkpost/internal/storage"
)

// Layout locates posts and the index inside the repository.
type Layout struct {
	PostsDir  string
	IndexPath string
}

// DefaultLayout is src/posts/<slug>.md with src/posts/index.json.
func DefaultLayout() Layout {
	return Layout{PostsDir: "src/posts", IndexPath: "src/posts/index.json"}
}

// PostPath returns the file path of slug.
func (l Layout) PostPath(slug string) string {
	return path.Join(l.PostsDir, slug+".md")
}

// slugOf returns the slug of a post file name.
func slugOf(name string) (string, bool) {
	if len(name) <= len(".md") || !strings.EqualFold(path.Ext(name), ".md") {
		return "", false
	}
	return name[:len(name)-len(".md")], true
}

// Store exposes post operations over a storage.Repository.
type Store struct {
	repo        storage.Repository
	layout      Layout
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Store.
type Option func(*Store)

// WithLayout overrides DefaultLayout.
func WithLayout(l Layout) Option {
	return func(s *Store) { s.layout = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRebuildConcurrency bounds concurrent file reads during a rebuild.
func WithRebuildConcurrency(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New returns a Store over repo.
func New(repo storage.Repository, opts ...Option) *Store {
	s := &Store{
		repo:        repo,
		layout:      DefaultLayout(),
		logger:      slog.Default(),
		now:         time.Now,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout returns the store layout.
func (s *Store) Layout() Layout { return s.layout }

// Repository returns the backing repository.
func (s *Store) Repository() storage.Repository { return s.repo }

// ReadIndex reads the persisted index from r. missing is true when the index
// file does not exist, so callers can tell "no posts" from "not built yet".
func (s *Store) ReadIndex(ctx context.Context, r storage.Reader) (entries []models.PostMeta, missing bool, err error) {
	data, err := r.ReadFile(ctx, s.layout.IndexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("contentstore: read index: %w", err)
	}
	entries, err = postindex.Decode(data)
	if err != nil {
		return nil, false, fmt.Errorf("contentstore: read index: %w", err)
	}
	return entries, false, nil
}

// RebuildIndex scans every post file in r and returns the sorted index.
func (s *Store) RebuildIndex(ctx context.Context, r storage.Reader) ([]models.PostMeta, error) {
	items, err := r.ListDir(ctx, s.layout.PostsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.PostMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("contentstore: list posts: %w", err)
	}

	type file struct{ slug, path string }
	var files []file
	for _, it := range items {
		if it.Dir {
			continue
		}
		if slug, ok := slugOf(it.Name); ok {
			files = append(files, file{slug: slug, path: it.Path})
		}
	}

	metas := make([]models.PostMeta, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range files {
		g.Go(func() error {
			data, err := r.ReadFile(gCtx, f.path)
			if err != nil {
				return fmt.Errorf("contentstore: load %s: %w", f.path, err)
			}
			metas[i] = frontmatter.ToMeta(f.slug, string(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]models.PostMeta, 0, len(metas))
	for _, m := range metas {
		if n, ok := postindex.Normalize(m); ok {
			out = append(out, n)
		}
	}
	postindex.Sort(out)
	return out, nil
}

// IndexOrRebuild returns the persisted index, or a fresh scan when the index
// is missing or unreadable.
func (s *Store) IndexOrRebuild(ctx context.Context, r storage.Reader) ([]models.PostMeta, error) {
	entries, missing, err := s.ReadIndex(ctx, r)
	switch {
	case err != nil:
		s.logger.Warn("post index unreadable, rebuilding", slog.String("error", err.Error()))
	case missing:
		s.logger.Info("post index missing, rebuilding", slog.String("path", s.layout.IndexPath))
	default:
		return entries, nil
	}
	return s.RebuildIndex(ctx, r)
}

func (s *Store) indexChange(entries []models.PostMeta) (storage.Change, error) {
	data, err := postindex.Encode(entries)
	if err != nil {
		return storage.Change{}, err
	}
	return storage.Change{Path: s.layout.IndexPath, Content: data}, nil
}

func (s *Store) exists(r storage.Reader) func(ctx context.Context, slug string) (bool, error) {
	return func(ctx context.Context, slug string) (bool, error) {
		return storage.Exists(ctx, r, s.layout.PostPath(slug))
	}
}
