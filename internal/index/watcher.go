package index

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marshver/inkpost/internal/apperr"
)

// Event kinds passed to EventCallback.
const (
	EventCreated      = "created"
	EventUpdated      = "updated"
	EventDeleted      = "deleted"
	EventIndexChanged = "index"
)

// EventCallback is called after a watcher-driven index change. slug is
// empty for EventIndexChanged.
type EventCallback func(kind, slug string)

// Watch follows out-of-band edits to the posts directory of a local
// checkout and keeps the search index in step until ctx is cancelled.
// Writes to indexFile are reported as EventIndexChanged.
//
// Rename events trigger a debounced Sync that removes documents whose files
// are gone and picks up the new names.
func Watch(ctx context.Context, db PostIndex, src Source, postsDir, indexFile string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(postsDir); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("dir", postsDir))

	notify := func(kind, slug string) {
		if cb != nil {
			cb(kind, slug)
		}
	}

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time
	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(200 * time.Millisecond)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			written, removed, err := Sync(ctx, db, src, logger)
			if err != nil {
				logger.Warn("reconcile: sync failed", slog.String("error", err.Error()))
				continue
			}
			if written+removed > 0 {
				notify(EventIndexChanged, "")
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if name == indexFile {
				if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					notify(EventIndexChanged, "")
				}
				continue
			}
			if !strings.EqualFold(filepath.Ext(name), ".md") {
				continue
			}
			slug := name[:len(name)-len(filepath.Ext(name))]

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				p, err := src.GetPost(ctx, slug)
				if errors.Is(err, apperr.ErrNotFound) {
					continue
				}
				if err != nil {
					logger.Warn("watcher: read failed", slog.String("slug", slug), slog.String("error", err.Error()))
					continue
				}
				if err := db.Upsert(ctx, DocumentFromPost(p)); err != nil {
					logger.Warn("watcher: index failed", slog.String("slug", slug), slog.String("error", err.Error()))
					continue
				}
				kind := EventUpdated
				if ev.Op&fsnotify.Create != 0 {
					kind = EventCreated
				}
				logger.Debug("watcher: indexed", slog.String("slug", slug), slog.String("op", kind))
				notify(kind, slug)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if err := db.Delete(ctx, slug); err != nil {
					logger.Warn("watcher: delete failed", slog.String("slug", slug), slog.String("error", err.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("slug", slug))
				notify(EventDeleted, slug)
				if ev.Op&fsnotify.Rename != 0 {
					scheduleReconcile()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
