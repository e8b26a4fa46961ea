// Package storage defines the file tree the posts live in and the local
// filesystem backend for it. Paths are slash separated and relative to the
// tree root.
package storage

import (
	"context"
	"errors"
	"io/fs"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string
	Path string
	Dir  bool
}

// Reader reads files from one consistent view of the tree.
type Reader interface {
	// ReadFile returns the file content. A missing file yields an error
	// matching fs.ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ListDir returns the direct children of dir. A missing directory
	// yields an error matching fs.ErrNotExist.
	ListDir(ctx context.Context, dir string) ([]Entry, error)
}

// Change is one file write or delete inside a commit.
type Change struct {
	Path    string
	Content []byte
	Delete  bool
}

// Batch is the content of one commit.
type Batch struct {
	Message string
	Changes []Change
}

// PrepareFunc computes a commit against r, the exact base the commit is built
// on. It may run more than once when a commit is retried. A batch without
// changes commits nothing.
type PrepareFunc func(ctx context.Context, r Reader) (Batch, error)

// Result describes a finished commit.
type Result struct {
	// Revision identifies the new tree state; empty when nothing was committed.
	Revision string
	Message  string
	Changes  []Change
	Attempts int
}

// Committed reports whether the commit changed the tree.
func (r Result) Committed() bool { return len(r.Changes) > 0 }

// Repository is a file tree with atomic multi-file commits.
type Repository interface {
	Reader
	// Commit applies the changes returned by prepare as one unit: either
	// every change becomes visible or none does.
	Commit(ctx context.Context, prepare PrepareFunc) (Result, error)
	// Name describes the backend for logs.
	Name() string
}

// Exists reports whether path exists in r.
func Exists(ctx context.Context, r Reader, path string) (bool, error) {
	_, err := r.ReadFile(ctx, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
