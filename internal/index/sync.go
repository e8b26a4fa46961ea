package index

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/models"
)

// Source is where Sync reads posts from.
type Source interface {
	ListPosts(ctx context.Context) ([]models.PostMeta, error)
	GetPost(ctx context.Context, slug string) (models.Post, error)
}

// Sync brings the index up to date with src:
//   - new/changed posts are loaded and upserted
//   - posts gone from src are deleted from the index
//
// It returns the number of documents written and removed.
func Sync(ctx context.Context, db PostIndex, src Source, logger *slog.Logger) (written, removed int, err error) {
	metas, err := src.ListPosts(ctx)
	if err != nil {
		return 0, 0, err
	}
	checksums, err := db.Checksums(ctx)
	if err != nil {
		return 0, 0, err
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	live := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		live[m.Slug] = struct{}{}
		g.Go(func() error {
			p, err := src.GetPost(gCtx, m.Slug)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				logger.Warn("sync: read failed", slog.String("slug", m.Slug), slog.String("error", err.Error()))
				return nil
			}
			doc := DocumentFromPost(p)
			if checksums[m.Slug] == doc.Checksum {
				return nil
			}
			if err := db.Upsert(gCtx, doc); err != nil {
				logger.Warn("sync: index failed", slog.String("slug", m.Slug), slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return written, 0, err
	}

	for slug := range checksums {
		if _, ok := live[slug]; ok {
			continue
		}
		if err := db.Delete(ctx, slug); err != nil {
			logger.Warn("sync: delete failed", slog.String("slug", slug), slog.String("error", err.Error()))
			continue
		}
		removed++
		logger.Debug("sync: removed stale", slog.String("slug", slug))
	}
	return written, removed, nil
}
