// Package testutil provides shared test helpers for setting up post stores
// and search databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/marshver/inkpost/internal/contentstore"
	"github.com/marshver/inkpost/internal/gitstore"
	"github.com/marshver/inkpost/internal/index"
	"github.com/marshver/inkpost/internal/storage"
)

// Branch is the branch used by MemoryStore.
const Branch = "main"

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "inkpost-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCheckout creates a temporary checkout with an empty posts directory
// and returns its root with a post store over it.
func TestCheckout(t *testing.T, opts ...contentstore.Option) (string, *contentstore.Store) {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(contentstore.DefaultLayout().PostsDir)), 0o755); err != nil {
		t.Fatal(err)
	}
	repo, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]contentstore.Option{contentstore.WithLogger(Logger())}, opts...)
	return root, contentstore.New(repo, opts...)
}

// MemoryStore returns a post store over an in-memory Git repository seeded
// with files.
func MemoryStore(t *testing.T, files map[string]string, opts ...contentstore.Option) (*contentstore.Store, *gitstore.Memory) {
	t.Helper()
	mem := gitstore.NewMemory(Branch, files)
	repo := gitstore.New(mem, Branch, gitstore.WithLogger(Logger()))
	opts = append([]contentstore.Option{contentstore.WithLogger(Logger())}, opts...)
	return contentstore.New(repo, opts...), mem
}

// Post returns a post file with the given title and date.
func Post(title, date, body string) string {
	return "---\ntitle: \"" + title + "\"\ndate: \"" + date + "\"\n---\n\n" + body + "\n"
}
