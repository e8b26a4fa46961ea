package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/frontmatter"
	"github.com/marshver/inkpost/internal/models"
	"github.com/marshver/inkpost/internal/postindex"
	"github.com/marshver/inkpost/internal/slug"
	"github.com/marshver/inkpost/internal/storage"
)

// SaveInput is the payload of SavePost. Nil Tags or Categories keep the
// values stored in the post.
type SaveInput struct {
	Slug       string
	Title      string
	Content    string
	Tags       []string
	Categories []string
}

// Created is the outcome of CreatePost.
type Created struct {
	Post   models.Post
	Commit storage.Result
}

// Saved is the outcome of SavePost.
type Saved struct {
	Post         models.Post
	PreviousSlug string
	Commit       storage.Result
}

// Renamed reports whether the save moved the post to a new slug.
func (s Saved) Renamed() bool { return s.Post.Slug != s.PreviousSlug }

// Deleted is the outcome of DeletePost.
type Deleted struct {
	Slug   string
	Commit storage.Result
}

// ListPosts returns the post index, rebuilding it from the files when the
// persisted copy is missing or unreadable.
func (s *Store) ListPosts(ctx context.Context) ([]models.PostMeta, error) {
	return s.IndexOrRebuild(ctx, s.repo)
}

// GetPost reads one post.
func (s *Store) GetPost(ctx context.Context, sl string) (models.Post, error) {
	sl = strings.TrimSpace(sl)
	if !slug.Valid(sl) {
		return models.Post{}, fmt.Errorf("contentstore: get %q: %w", sl, apperr.ErrInvalidSlug)
	}
	data, err := s.repo.ReadFile(ctx, s.layout.PostPath(sl))
	if errors.Is(err, fs.ErrNotExist) {
		return models.Post{}, fmt.Errorf("contentstore: get %q: %w", sl, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Post{}, fmt.Errorf("contentstore: get %q: %w", sl, err)
	}
	return frontmatter.ToPost(sl, string(data)), nil
}

// CreatePost adds an untitled post whose slug is the creation time in
// milliseconds.
func (s *Store) CreatePost(ctx context.Context) (Created, error) {
	now := s.now()
	date := frontmatter.FormatDateTime(now)
	base := slug.FromTime(now)
	raw := frontmatter.Serialize(frontmatter.Meta{Title: frontmatter.Untitled, Date: date}, "")

	var created string
	res, err := s.repo.Commit(ctx, func(ctx context.Context, r storage.Reader) (storage.Batch, error) {
		sl, err := slug.Resolve(ctx, s.exists(r), base, "")
		if err != nil {
			return storage.Batch{}, err
		}
		idx, err := s.IndexOrRebuild(ctx, r)
		if err != nil {
			return storage.Batch{}, err
		}
		ic, err := s.indexChange(postindex.Apply(idx, postindex.Update{
			Upserts: []postindex.Upsert{{Slug: sl, Raw: raw}},
		}))
		if err != nil {
			return storage.Batch{}, err
		}
		created = sl
		return storage.Batch{
			Message: "admin: create " + sl,
			Changes: []storage.Change{
				{Path: s.layout.PostPath(sl), Content: []byte(raw)},
				ic,
			},
		}, nil
	})
	if err != nil {
		return Created{}, fmt.Errorf("contentstore: create: %w", err)
	}
	return Created{Post: frontmatter.ToPost(created, raw), Commit: res}, nil
}

// SavePost rewrites a post. The slug follows the title; when the title maps
// to another free slug the post is renamed in the same commit.
func (s *Store) SavePost(ctx context.Context, in SaveInput) (Saved, error) {
	cur := strings.TrimSpace(in.Slug)
	if !slug.Valid(cur) {
		return Saved{}, fmt.Errorf("contentstore: save %q: %w", cur, apperr.ErrInvalidSlug)
	}
	title := strings.TrimSpace(in.Title)
	desired := slug.FromTitle(title)
	if desired == "" {
		desired = cur
	}
	date := frontmatter.FormatDateTime(s.now())

	var (
		next string
		raw  string
	)
	res, err := s.repo.Commit(ctx, func(ctx context.Context, r storage.Reader) (storage.Batch, error) {
		var err error
		taken := s.exists(r)
		next, err = slug.Resolve(ctx, func(ctx context.Context, candidate string) (bool, error) {
			if strings.EqualFold(candidate, cur) {
				return false, nil
			}
			return taken(ctx, candidate)
		}, desired, cur)
		if err != nil {
			return storage.Batch{}, err
		}

		stored, err := r.ReadFile(ctx, s.layout.PostPath(cur))
		existed := err == nil
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storage.Batch{}, err
		}
		meta := frontmatter.Meta{Title: title, Date: date, Tags: in.Tags, Categories: in.Categories}
		if meta.Title == "" {
			meta.Title = next
		}
		if existed && (in.Tags == nil || in.Categories == nil) {
			prev := frontmatter.ToPost(cur, string(stored))
			if in.Tags == nil {
				meta.Tags = prev.Tags
			}
			if in.Categories == nil {
				meta.Categories = prev.Categories
			}
		}
		raw = frontmatter.Serialize(meta, in.Content)

		idx, err := s.IndexOrRebuild(ctx, r)
		if err != nil {
			return storage.Batch{}, err
		}

		if next == cur {
			ic, err := s.indexChange(postindex.Apply(idx, postindex.Update{
				Upserts: []postindex.Upsert{{Slug: cur, Raw: raw}},
			}))
			if err != nil {
				return storage.Batch{}, err
			}
			return storage.Batch{
				Message: "admin: save " + cur,
				Changes: []storage.Change{{Path: s.layout.PostPath(cur), Content: []byte(raw)}, ic},
			}, nil
		}

		ic, err := s.indexChange(postindex.Apply(idx, postindex.Update{
			RemoveSlugs: []string{cur},
			Upserts:     []postindex.Upsert{{Slug: next, Raw: raw}},
		}))
		if err != nil {
			return storage.Batch{}, err
		}
		changes := []storage.Change{{Path: s.layout.PostPath(next), Content: []byte(raw)}}
		if existed {
			changes = append(changes, storage.Change{Path: s.layout.PostPath(cur), Delete: true})
		}
		return storage.Batch{
			Message: "admin: rename " + cur + " -> " + next,
			Changes: append(changes, ic),
		}, nil
	})
	if err != nil {
		return Saved{}, fmt.Errorf("contentstore: save %q: %w", cur, err)
	}
	return Saved{Post: frontmatter.ToPost(next, raw), PreviousSlug: cur, Commit: res}, nil
}

// DeletePost removes a post and its index entry. Deleting a post that is
// neither on disk nor in the index commits nothing; a stale index entry
// without a file is pruned on its own.
func (s *Store) DeletePost(ctx context.Context, sl string) (Deleted, error) {
	sl = strings.TrimSpace(sl)
	if !slug.Valid(sl) {
		return Deleted{}, fmt.Errorf("contentstore: delete %q: %w", sl, apperr.ErrInvalidSlug)
	}
	res, err := s.repo.Commit(ctx, func(ctx context.Context, r storage.Reader) (storage.Batch, error) {
		existed, err := storage.Exists(ctx, r, s.layout.PostPath(sl))
		if err != nil {
			return storage.Batch{}, err
		}
		idx, err := s.IndexOrRebuild(ctx, r)
		if err != nil {
			return storage.Batch{}, err
		}
		if !existed && !postindex.Contains(idx, sl) {
			return storage.Batch{}, nil
		}
		ic, err := s.indexChange(postindex.Apply(idx, postindex.Update{RemoveSlugs: []string{sl}}))
		if err != nil {
			return storage.Batch{}, err
		}
		var changes []storage.Change
		if existed {
			changes = append(changes, storage.Change{Path: s.layout.PostPath(sl), Delete: true})
		}
		return storage.Batch{Message: "admin: delete " + sl, Changes: append(changes, ic)}, nil
	})
	if err != nil {
		return Deleted{}, fmt.Errorf("contentstore: delete %q: %w", sl, err)
	}
	return Deleted{Slug: sl, Commit: res}, nil
}

// RebuildAndCommitIndex regenerates the index from the post files and
// commits it when it differs from the stored one.
func (s *Store) RebuildAndCommitIndex(ctx context.Context) ([]models.PostMeta, storage.Result, error) {
	var entries []models.PostMeta
	res, err := s.repo.Commit(ctx, func(ctx context.Context, r storage.Reader) (storage.Batch, error) {
		var err error
		entries, err = s.RebuildIndex(ctx, r)
		if err != nil {
			return storage.Batch{}, err
		}
		ic, err := s.indexChange(entries)
		if err != nil {
			return storage.Batch{}, err
		}
		current, err := r.ReadFile(ctx, s.layout.IndexPath)
		if err == nil && bytes.Equal(current, ic.Content) {
			return storage.Batch{}, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storage.Batch{}, err
		}
		return storage.Batch{Message: "admin: rebuild index", Changes: []storage.Change{ic}}, nil
	})
	if err != nil {
		return nil, storage.Result{}, fmt.Errorf("contentstore: rebuild index: %w", err)
	}
	return entries, res, nil
}
