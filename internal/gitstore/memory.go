package gitstore

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/checksum"
	"github.com/marshver/inkpost/internal/storage"
)

// Memory is an in-process API with Git semantics: content addressed blobs,
// immutable flat trees, parent-linked commits and compare-and-swap branch
// updates. Object ids are real git blob ids for blobs and git-style digests
// otherwise.
type Memory struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	trees   map[string]map[string]string // tree id -> path -> blob id
	commits map[string]memCommit
	refs    map[string]string
	seq     int

	beforeUpdateRef func(ctx context.Context, branch, commit string)
	updateRefCalls  int
}

type memCommit struct {
	tree    string
	parent  string
	message string
}

// NewMemory returns a repository whose branch holds one commit with files.
func NewMemory(branch string, files map[string]string) *Memory {
	m := &Memory{
		blobs:   make(map[string][]byte),
		trees:   make(map[string]map[string]string),
		commits: make(map[string]memCommit),
		refs:    make(map[string]string),
	}
	tree := make(map[string]string, len(files))
	for p, content := range files {
		tree[p] = m.putBlob([]byte(content))
	}
	treeID := m.putTree(tree)
	m.refs[branch] = m.putCommit(memCommit{tree: treeID, message: "initial"})
	return m
}

// BeforeUpdateRef installs a hook that runs at the start of every UpdateRef
// call, outside the lock, so it may itself commit to simulate a concurrent
// writer.
func (m *Memory) BeforeUpdateRef(hook func(ctx context.Context, branch, commit string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeUpdateRef = hook
}

// UpdateRefCalls returns how many times UpdateRef ran.
func (m *Memory) UpdateRefCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRefCalls
}

// Log returns the commit messages reachable from branch, newest first.
func (m *Memory) Log(branch string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id := m.refs[branch]; id != ""; id = m.commits[id].parent {
		out = append(out, m.commits[id].message)
	}
	return out
}

// Files returns a snapshot of every file at branch.
func (m *Memory) Files(branch string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string)
	tree := m.trees[m.commits[m.refs[branch]].tree]
	for p, blob := range tree {
		out[p] = string(m.blobs[blob])
	}
	return out
}

// ReadFile implements API.
func (m *Memory) ReadFile(_ context.Context, p, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, err := m.treeAt(ref)
	if err != nil {
		return nil, err
	}
	blob, ok := tree[strings.TrimLeft(p, "/")]
	if !ok {
		return nil, fmt.Errorf("gitstore: read %s@%s: %w", p, ref, fs.ErrNotExist)
	}
	return append([]byte(nil), m.blobs[blob]...), nil
}

// ListDir implements API.
func (m *Memory) ListDir(_ context.Context, dir, ref string) ([]storage.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, err := m.treeAt(ref)
	if err != nil {
		return nil, err
	}
	dir = strings.Trim(dir, "/")
	prefix := dir + "/"
	if dir == "" {
		prefix = ""
	}
	seen := make(map[string]bool)
	for p := range tree {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		name, _, nested := strings.Cut(rest, "/")
		seen[name] = seen[name] || nested
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("gitstore: list %s@%s: %w", dir, ref, fs.ErrNotExist)
	}
	out := make([]storage.Entry, 0, len(seen))
	for name, isDir := range seen {
		out = append(out, storage.Entry{Name: name, Path: path.Join(dir, name), Dir: isDir})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// HeadCommit implements API.
func (m *Memory) HeadCommit(_ context.Context, branch string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refs[branch]
	if !ok {
		return "", notFound("get ref", branch)
	}
	return id, nil
}

// CommitTree implements API.
func (m *Memory) CommitTree(_ context.Context, commit string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.commits[commit]
	if !ok {
		return "", notFound("get commit", commit)
	}
	return c.tree, nil
}

// CreateBlob implements API.
func (m *Memory) CreateBlob(_ context.Context, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putBlob(content), nil
}

// CreateTree implements API. Removing a path the base tree does not have is
// rejected, as the hosted API does.
func (m *Memory) CreateTree(_ context.Context, baseTree string, entries []TreeEntry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	base, ok := m.trees[baseTree]
	if !ok {
		return "", unprocessable("create tree", "base tree "+baseTree+" not found")
	}
	next := make(map[string]string, len(base)+len(entries))
	for p, blob := range base {
		next[p] = blob
	}
	for _, e := range entries {
		p := strings.TrimLeft(e.Path, "/")
		if e.SHA == nil {
			if _, ok := next[p]; !ok {
				return "", unprocessable("create tree", "path "+p+" not in tree")
			}
			delete(next, p)
			continue
		}
		if _, ok := m.blobs[*e.SHA]; !ok {
			return "", unprocessable("create tree", "blob "+*e.SHA+" not found")
		}
		next[p] = *e.SHA
	}
	return m.putTree(next), nil
}

// CreateCommit implements API.
func (m *Memory) CreateCommit(_ context.Context, message, tree, parent string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trees[tree]; !ok {
		return "", unprocessable("create commit", "tree "+tree+" not found")
	}
	if _, ok := m.commits[parent]; !ok {
		return "", unprocessable("create commit", "parent "+parent+" not found")
	}
	return m.putCommit(memCommit{tree: tree, parent: parent, message: message}), nil
}

// UpdateRef implements API. The branch only moves when its current tip is
// an ancestor of commit.
func (m *Memory) UpdateRef(ctx context.Context, branch, commit string) error {
	m.mu.Lock()
	hook := m.beforeUpdateRef
	m.updateRefCalls++
	m.mu.Unlock()
	if hook != nil {
		hook(ctx, branch, commit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	tip, ok := m.refs[branch]
	if !ok {
		return notFound("update ref", branch)
	}
	if _, ok := m.commits[commit]; !ok {
		return unprocessable("update ref", "commit "+commit+" not found")
	}
	for id := commit; id != ""; id = m.commits[id].parent {
		if id == tip {
			m.refs[branch] = commit
			return nil
		}
	}
	return fmt.Errorf("gitstore: update ref %s: %w", branch, ErrRefConflict)
}

func (m *Memory) treeAt(ref string) (map[string]string, error) {
	id, ok := m.refs[ref]
	if !ok {
		id = ref
	}
	c, ok := m.commits[id]
	if !ok {
		return nil, notFound("resolve ref", ref)
	}
	return m.trees[c.tree], nil
}

func (m *Memory) putBlob(content []byte) string {
	id := checksum.GitObject("blob", content)
	m.blobs[id] = append([]byte(nil), content...)
	return id
}

func (m *Memory) putTree(tree map[string]string) string {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	for _, p := range paths {
		b.WriteString(fileMode + " " + p + "\x00" + tree[p] + "\n")
	}
	id := checksum.GitObject("tree", []byte(b.String()))
	m.trees[id] = tree
	return id
}

func (m *Memory) putCommit(c memCommit) string {
	m.seq++
	payload := "tree " + c.tree + "\nparent " + c.parent + "\nseq " + strconv.Itoa(m.seq) + "\n\n" + c.message
	id := checksum.GitObject("commit", []byte(payload))
	m.commits[id] = c
	return id
}

func notFound(op, what string) error {
	return &apperr.UpstreamError{Op: op, Status: http.StatusNotFound, Message: what + " not found"}
}

func unprocessable(op, msg string) error {
	return &apperr.UpstreamError{Op: op, Status: http.StatusUnprocessableEntity, Message: msg}
}
