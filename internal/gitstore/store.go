// Package gitstore commits multi-file changes to a branch of a Git
// repository through a Git Data style API. A commit becomes visible only when
// the branch reference moves, and the reference is never force-updated: a
// writer that lost a race retries from the new head under a bounded policy.
package gitstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/storage"
)

// ErrRefConflict is returned by API.UpdateRef when the branch is no longer at
// the new commit's parent.
var ErrRefConflict = errors.New("reference update conflict")

const (
	fileMode = "100644"
	blobType = "blob"
)

// TreeEntry is one path of a CreateTree request. A nil SHA removes the path
// from the base tree.
type TreeEntry struct {
	Path string  `json:"path"`
	Mode string  `json:"mode"`
	Type string  `json:"type"`
	SHA  *string `json:"sha"`
}

// API is the backing Git service. ref arguments accept a branch name or a
// commit id.
type API interface {
	ReadFile(ctx context.Context, path, ref string) ([]byte, error)
	ListDir(ctx context.Context, path, ref string) ([]storage.Entry, error)
	HeadCommit(ctx context.Context, branch string) (string, error)
	CommitTree(ctx context.Context, commit string) (string, error)
	CreateBlob(ctx context.Context, content []byte) (string, error)
	CreateTree(ctx context.Context, baseTree string, entries []TreeEntry) (string, error)
	CreateCommit(ctx context.Context, message, tree, parent string) (string, error)
	UpdateRef(ctx context.Context, branch, commit string) error
}

// RetryPolicy bounds how often a commit is attempted when the branch moved
// underneath it.
type RetryPolicy struct {
	MaxAttempts int
}

// DefaultRetryPolicy tries once more after a lost race.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Outcomes passed to Observer.
const (
	OutcomeCommitted = "committed"
	OutcomeConflict  = "conflict"
	OutcomeNoop      = "noop"
	OutcomeError     = "error"
)

// Observer is told the outcome of every commit attempt.
type Observer interface {
	CommitAttempt(backend, outcome string)
}

// Store implements storage.Repository on top of an API.
type Store struct {
	api      API
	branch   string
	retry    RetryPolicy
	logger   *slog.Logger
	observer Observer
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// New returns a Store committing to branch.
func New(api API, branch string, opts ...Option) *Store {
	s := &Store{
		api:    api,
		branch: branch,
		retry:  DefaultRetryPolicy(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements storage.Repository.
func (s *Store) Name() string { return "git:" + s.branch }

// Branch returns the branch commits are made on.
func (s *Store) Branch() string { return s.branch }

// ReadFile reads path at the branch tip.
func (s *Store) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return s.api.ReadFile(ctx, path, s.branch)
}

// ListDir lists dir at the branch tip.
func (s *Store) ListDir(ctx context.Context, dir string) ([]storage.Entry, error) {
	return s.api.ListDir(ctx, dir, s.branch)
}

// Commit runs the commit sequence: resolve head, resolve base tree, prepare
// the change set against that head, stage blobs, build the tree, create the
// commit and move the branch without force. A lost race restarts the whole
// sequence while the retry policy allows; any other failure aborts at once.
func (s *Store) Commit(ctx context.Context, prepare storage.PrepareFunc) (storage.Result, error) {
	limit := s.retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		res, err := s.attempt(ctx, prepare)
		switch {
		case err == nil:
			res.Attempts = attempt
			if res.Committed() {
				s.observe(OutcomeCommitted)
			} else {
				s.observe(OutcomeNoop)
			}
			return res, nil
		case errors.Is(err, ErrRefConflict):
			s.observe(OutcomeConflict)
			s.logger.Warn("commit lost a race",
				slog.String("branch", s.branch),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", limit))
			lastErr = err
		default:
			s.observe(OutcomeError)
			return storage.Result{Attempts: attempt}, err
		}
	}
	return storage.Result{Attempts: limit}, fmt.Errorf("gitstore: commit after %d attempts: %w: %w",
		limit, apperr.ErrConcurrentModification, lastErr)
}

func (s *Store) attempt(ctx context.Context, prepare storage.PrepareFunc) (storage.Result, error) {
	head, err := s.api.HeadCommit(ctx, s.branch)
	if err != nil {
		return storage.Result{}, fmt.Errorf("gitstore: resolve head: %w", err)
	}
	baseTree, err := s.api.CommitTree(ctx, head)
	if err != nil {
		return storage.Result{}, fmt.Errorf("gitstore: resolve tree: %w", err)
	}

	batch, err := prepare(ctx, pinned{api: s.api, ref: head})
	if err != nil {
		return storage.Result{}, err
	}
	changes := storage.Compact(batch.Changes)
	if len(changes) == 0 {
		return storage.Result{}, nil
	}

	entries := make([]TreeEntry, 0, len(changes))
	for _, ch := range changes {
		entry := TreeEntry{Path: ch.Path, Mode: fileMode, Type: blobType}
		if !ch.Delete {
			sha, err := s.api.CreateBlob(ctx, ch.Content)
			if err != nil {
				return storage.Result{}, fmt.Errorf("gitstore: create blob %s: %w", ch.Path, err)
			}
			entry.SHA = &sha
		}
		entries = append(entries, entry)
	}

	tree, err := s.api.CreateTree(ctx, baseTree, entries)
	if err != nil {
		return storage.Result{}, fmt.Errorf("gitstore: create tree: %w", err)
	}
	commit, err := s.api.CreateCommit(ctx, batch.Message, tree, head)
	if err != nil {
		return storage.Result{}, fmt.Errorf("gitstore: create commit: %w", err)
	}
	if err := s.api.UpdateRef(ctx, s.branch, commit); err != nil {
		return storage.Result{}, fmt.Errorf("gitstore: update ref %s: %w", s.branch, err)
	}
	return storage.Result{Revision: commit, Message: batch.Message, Changes: changes}, nil
}

func (s *Store) observe(outcome string) {
	if s.observer != nil {
		s.observer.CommitAttempt(s.Name(), outcome)
	}
}

// pinned reads from one fixed commit.
type pinned struct {
	api API
	ref string
}

func (p pinned) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return p.api.ReadFile(ctx, path, p.ref)
}

func (p pinned) ListDir(ctx context.Context, dir string) ([]storage.Entry, error) {
	return p.api.ListDir(ctx, dir, p.ref)
}
