// Package postservice coordinates the post store with the search index, the
// read cache and the live event broker.
package postservice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/marshver/inkpost/internal/contentstore"
	"github.com/marshver/inkpost/internal/index"
	"github.com/marshver/inkpost/internal/models"
	"github.com/marshver/inkpost/internal/sse"
)

// Cached public read paths. Mutations purge them.
const (
	ListPath   = "/api/posts"
	PostPrefix = "/api/posts/"
)

// Change origins reported to the Observer.
const (
	OriginAPI     = "api"
	OriginWatcher = "watcher"
)

// Purger drops cached responses for request paths.
type Purger interface {
	Purge(ctx context.Context, paths ...string) error
}

// Publisher receives post change notifications.
type Publisher interface {
	PublishPostEvent(kind string, event sse.PostEvent)
	PublishIndexChanged()
}

// Observer records post changes and the search index size.
type Observer interface {
	IncPostEvent(kind, origin string)
	SetSearchDocuments(n int)
}

// Service is the application layer shared by the HTTP API, the MCP server
// and the CLI.
type Service struct {
	store    *contentstore.Store
	db       index.PostIndex
	cache    Purger
	events   Publisher
	observer Observer
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache purges c after every committed mutation.
func WithCache(c Purger) Option {
	return func(s *Service) { s.cache = c }
}

// WithEvents publishes post changes to p.
func WithEvents(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithObserver reports changes to o.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service. db may be nil when search is not needed.
func New(store *contentstore.Store, db index.PostIndex, opts ...Option) *Service {
	s := &Service{store: store, db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying post store.
func (s *Service) Store() *contentstore.Store { return s.store }

// ListPosts returns the post index.
func (s *Service) ListPosts(ctx context.Context) ([]models.PostMeta, error) {
	return s.store.ListPosts(ctx)
}

// GetPost returns one post.
func (s *Service) GetPost(ctx context.Context, slug string) (models.Post, error) {
	return s.store.GetPost(ctx, slug)
}

// Search runs query against the search index.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.Hit, error) {
	if s.db == nil {
		return []index.Hit{}, nil
	}
	return s.db.Search(ctx, query, limit)
}

// CreatePost adds an untitled post.
func (s *Service) CreatePost(ctx context.Context) (contentstore.Created, error) {
	res, err := s.store.CreatePost(ctx)
	if err != nil {
		return res, err
	}
	s.reindex(ctx, res.Post)
	s.purge(ctx, res.Post.Slug)
	s.notify(index.EventCreated, OriginAPI, sse.PostEvent{Slug: res.Post.Slug})
	return res, nil
}

// SavePost saves a post, renaming it when its title maps to a new slug.
func (s *Service) SavePost(ctx context.Context, in contentstore.SaveInput) (contentstore.Saved, error) {
	res, err := s.store.SavePost(ctx, in)
	if err != nil {
		return res, err
	}
	ev := sse.PostEvent{Slug: res.Post.Slug}
	if res.Renamed() {
		ev.PreviousSlug = res.PreviousSlug
		s.unindex(ctx, res.PreviousSlug)
		s.purge(ctx, res.Post.Slug, res.PreviousSlug)
	} else {
		s.purge(ctx, res.Post.Slug)
	}
	s.reindex(ctx, res.Post)
	s.notify(index.EventUpdated, OriginAPI, ev)
	return res, nil
}

// DeletePost removes a post. Deleting an absent post succeeds without a
// commit.
func (s *Service) DeletePost(ctx context.Context, slug string) (contentstore.Deleted, error) {
	res, err := s.store.DeletePost(ctx, slug)
	if err != nil {
		return res, err
	}
	if !res.Commit.Committed() {
		return res, nil
	}
	s.unindex(ctx, res.Slug)
	s.purge(ctx, res.Slug)
	s.notify(index.EventDeleted, OriginAPI, sse.PostEvent{Slug: res.Slug})
	return res, nil
}

// RebuildIndex regenerates and commits the post index from the post files,
// then brings the search index in step.
func (s *Service) RebuildIndex(ctx context.Context) ([]models.PostMeta, error) {
	entries, res, err := s.store.RebuildAndCommitIndex(ctx)
	if err != nil {
		return nil, err
	}
	if res.Committed() {
		s.purge(ctx)
		if s.events != nil {
			s.events.PublishIndexChanged()
		}
	}
	if _, _, err := s.SyncSearch(ctx); err != nil {
		return entries, err
	}
	return entries, nil
}

// SyncSearch reconciles the search index with the store.
func (s *Service) SyncSearch(ctx context.Context) (written, removed int, err error) {
	if s.db == nil {
		return 0, 0, nil
	}
	written, removed, err = index.Sync(ctx, s.db, s.store, s.logger)
	if err != nil {
		return written, removed, fmt.Errorf("postservice: sync search: %w", err)
	}
	s.observeCount(ctx)
	s.logger.Info("search index synced",
		slog.Int("written", written),
		slog.Int("removed", removed),
	)
	return written, removed, nil
}

// ExternalChange handles a change made outside the service, such as an
// editor writing into the checkout. The watcher has already updated the
// search index.
func (s *Service) ExternalChange(kind, slug string) {
	ctx := context.Background()
	if kind == index.EventIndexChanged {
		s.purge(ctx)
		if s.events != nil {
			s.events.PublishIndexChanged()
		}
		s.observeCount(ctx)
		return
	}
	s.purge(ctx, slug)
	s.notify(kind, OriginWatcher, sse.PostEvent{Slug: slug})
	s.observeCount(ctx)
}

func (s *Service) reindex(ctx context.Context, p models.Post) {
	if s.db == nil {
		return
	}
	if err := s.db.Upsert(ctx, index.DocumentFromPost(p)); err != nil {
		s.logger.Warn("search index update failed", slog.String("slug", p.Slug), slog.String("error", err.Error()))
		return
	}
	s.observeCount(ctx)
}

func (s *Service) unindex(ctx context.Context, slug string) {
	if s.db == nil {
		return
	}
	if err := s.db.Delete(ctx, slug); err != nil {
		s.logger.Warn("search index delete failed", slog.String("slug", slug), slog.String("error", err.Error()))
		return
	}
	s.observeCount(ctx)
}

// purge drops the list response and the responses of slugs.
func (s *Service) purge(ctx context.Context, slugs ...string) {
	if s.cache == nil {
		return
	}
	paths := []string{ListPath}
	for _, sl := range slugs {
		paths = append(paths, PostPrefix+sl)
	}
	if err := s.cache.Purge(ctx, paths...); err != nil {
		s.logger.Warn("read cache purge failed", slog.Any("paths", paths), slog.String("error", err.Error()))
	}
}

func (s *Service) notify(kind, origin string, ev sse.PostEvent) {
	if s.events != nil {
		s.events.PublishPostEvent(kind, ev)
	}
	if s.observer != nil {
		s.observer.IncPostEvent(kind, origin)
	}
}

func (s *Service) observeCount(ctx context.Context) {
	if s.observer == nil || s.db == nil {
		return
	}
	n, err := s.db.Count(ctx)
	if err != nil {
		return
	}
	s.observer.SetSearchDocuments(n)
}
