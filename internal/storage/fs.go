package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/marshver/inkpost/internal/checksum"
)

const tmpPattern = ".inkpost-tmp-*"

// FS implements Repository backed by a local directory. Commits are
// serialized by a mutex; each file is replaced atomically and a failed
// commit restores the files it already touched.
type FS struct {
	root string // absolute path to the tree root

	mu sync.Mutex
}

// NewFS creates a new FS repository rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// Name implements Repository.
func (f *FS) Name() string { return "fs:" + f.root }

// safePath resolves a relative path against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return abs, nil
}

// ReadFile implements Reader.
func (f *FS) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := f.safePath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// ListDir implements Reader. Temporary files of in-flight writes are hidden.
func (f *FS) ListDir(ctx context.Context, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		if isTemp(it.Name()) {
			continue
		}
		out = append(out, Entry{
			Name: it.Name(),
			Path: path.Join(dir, it.Name()),
			Dir:  it.IsDir(),
		})
	}
	return out, nil
}

// Commit implements Repository.
func (f *FS) Commit(ctx context.Context, prepare PrepareFunc) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch, err := prepare(ctx, f)
	if err != nil {
		return Result{Attempts: 1}, err
	}
	changes := Compact(batch.Changes)
	if len(changes) == 0 {
		return Result{Attempts: 1}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{Attempts: 1}, err
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for _, ch := range changes {
		restore, err := f.apply(ch)
		if err != nil {
			rollback()
			return Result{Attempts: 1}, fmt.Errorf("storage: commit %q: %w", batch.Message, err)
		}
		undo = append(undo, restore)
	}

	return Result{Revision: revision(changes), Message: batch.Message, Changes: changes, Attempts: 1}, nil
}

// apply performs one change and returns a func that puts the old state back.
func (f *FS) apply(ch Change) (func(), error) {
	abs, err := f.safePath(ch.Path)
	if err != nil {
		return nil, err
	}
	prev, readErr := os.ReadFile(abs)
	existed := readErr == nil
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("storage: read %s: %w", ch.Path, readErr)
	}
	restore := func() {
		if existed {
			_ = f.write(abs, prev)
		} else {
			_ = os.Remove(abs)
		}
	}

	if ch.Delete {
		if !existed {
			return func() {}, nil
		}
		if err := os.Remove(abs); err != nil {
			return nil, fmt.Errorf("storage: delete %s: %w", ch.Path, err)
		}
		return restore, nil
	}
	if err := f.write(abs, ch.Content); err != nil {
		return nil, err
	}
	return restore, nil
}

// write atomically writes content: tmp file → fsync → rename.
func (f *FS) write(abs string, content []byte) error {
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("storage: chmod: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Compact drops empty paths, strips leading slashes and keeps the last change
// per path, in first appearance order.
func Compact(changes []Change) []Change {
	pos := make(map[string]int, len(changes))
	var out []Change
	for _, ch := range changes {
		ch.Path = strings.TrimLeft(ch.Path, "/")
		if ch.Path == "" {
			continue
		}
		if i, ok := pos[ch.Path]; ok {
			out[i] = ch
			continue
		}
		pos[ch.Path] = len(out)
		out = append(out, ch)
	}
	return out
}

func revision(changes []Change) string {
	sorted := append([]Change(nil), changes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var b strings.Builder
	for _, ch := range sorted {
		b.WriteString(ch.Path)
		if ch.Delete {
			b.WriteString("\x00-")
		} else {
			b.WriteString("\x00+")
			b.WriteString(checksum.Sum(ch.Content))
		}
		b.WriteByte('\n')
	}
	return checksum.Sum([]byte(b.String()))
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".inkpost-tmp-")
}
