package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func tempTree(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func writes(message string, changes ...Change) PrepareFunc {
	return func(context.Context, Reader) (Batch, error) {
		return Batch{Message: message, Changes: changes}, nil
	}
}

func TestCommitAndRead(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	res, err := s.Commit(ctx, writes("add",
		Change{Path: "src/posts/a.md", Content: []byte("# A\n")},
		Change{Path: "src/posts/index.json", Content: []byte("{}\n")},
	))
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !res.Committed() || res.Revision == "" || len(res.Changes) != 2 {
		t.Errorf("result = %+v", res)
	}
	got, err := s.ReadFile(ctx, "src/posts/a.md")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "# A\n" {
		t.Errorf("content = %q", got)
	}
}

func TestReadFile_Missing(t *testing.T) {
	s := tempTree(t)
	_, err := s.ReadFile(context.Background(), "nope.md")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
	ok, err := Exists(context.Background(), s, "nope.md")
	if err != nil || ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestCommit_DeleteAndDeleteMissing(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	if _, err := s.Commit(ctx, writes("add", Change{Path: "a.md", Content: []byte("a")})); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Commit(ctx, writes("del", Change{Path: "a.md", Delete: true}, Change{Path: "never.md", Delete: true})); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if ok, _ := Exists(ctx, s, "a.md"); ok {
		t.Error("a.md should be gone")
	}
}

func TestCommit_EmptyChangeSet(t *testing.T) {
	s := tempTree(t)
	res, err := s.Commit(context.Background(), writes("noop"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Committed() || res.Revision != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestCommit_PrepareSeesCurrentTree(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	_, _ = s.Commit(ctx, writes("seed", Change{Path: "n.txt", Content: []byte("1")}))
	_, err := s.Commit(ctx, func(ctx context.Context, r Reader) (Batch, error) {
		data, err := r.ReadFile(ctx, "n.txt")
		if err != nil {
			return Batch{}, err
		}
		return Batch{Message: "bump", Changes: []Change{{Path: "n.txt", Content: append(data, '2')}}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.ReadFile(ctx, "n.txt")
	if string(got) != "12" {
		t.Errorf("content = %q", got)
	}
}

func TestCommit_PrepareErrorWritesNothing(t *testing.T) {
	s := tempTree(t)
	boom := errors.New("boom")
	_, err := s.Commit(context.Background(), func(context.Context, Reader) (Batch, error) {
		return Batch{}, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestCommit_RollsBackOnFailure(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	_, _ = s.Commit(ctx, writes("seed", Change{Path: "a.md", Content: []byte("old")}))

	_, err := s.Commit(ctx, writes("bad",
		Change{Path: "a.md", Content: []byte("new")},
		Change{Path: "b.md", Content: []byte("b")},
		Change{Path: "../escape.md", Content: []byte("x")},
	))
	if err == nil {
		t.Fatal("expected error for escaping path")
	}
	got, _ := s.ReadFile(ctx, "a.md")
	if string(got) != "old" {
		t.Errorf("a.md = %q, want rollback to old", got)
	}
	if ok, _ := Exists(ctx, s, "b.md"); ok {
		t.Error("b.md should have been rolled back")
	}
}

func TestCommit_LastChangePerPathWins(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	res, err := s.Commit(ctx, writes("dup",
		Change{Path: "a.md", Content: []byte("1")},
		Change{Path: "/a.md", Content: []byte("2")},
	))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Changes) != 1 {
		t.Errorf("changes = %d, want 1", len(res.Changes))
	}
	got, _ := s.ReadFile(ctx, "a.md")
	if string(got) != "2" {
		t.Errorf("content = %q", got)
	}
}

func TestListDir(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	_, _ = s.Commit(ctx, writes("seed",
		Change{Path: "src/posts/a.md", Content: []byte("a")},
		Change{Path: "src/posts/sub/b.md", Content: []byte("b")},
	))
	_ = os.WriteFile(filepath.Join(s.Root(), "src", "posts", ".inkpost-tmp-123"), []byte("x"), 0o644)

	items, err := s.ListDir(ctx, "src/posts")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v, want 2", items)
	}
	byName := map[string]Entry{}
	for _, it := range items {
		byName[it.Name] = it
	}
	if e := byName["a.md"]; e.Dir || e.Path != "src/posts/a.md" {
		t.Errorf("a.md = %+v", e)
	}
	if e := byName["sub"]; !e.Dir {
		t.Errorf("sub = %+v", e)
	}

	if _, err := s.ListDir(ctx, "missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ListDir(missing) err = %v", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.ReadFile(ctx, p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
	}
	if _, err := s.Commit(ctx, writes("x", Change{Path: "../outside.md", Content: []byte("x")})); err == nil {
		t.Error("expected error for write outside root")
	}
}

func TestNoTempLeftovers(t *testing.T) {
	s := tempTree(t)
	ctx := context.Background()
	_, _ = s.Commit(ctx, writes("1", Change{Path: "atomic.md", Content: []byte("original")}))
	if _, err := s.Commit(ctx, writes("2", Change{Path: "atomic.md", Content: []byte("updated")})); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), ".inkpost-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "does-not-exist"))
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	_ = os.WriteFile(f, []byte("x"), 0o644)
	if _, err := NewFS(f); err == nil {
		t.Error("expected error when root is a file")
	}
}
