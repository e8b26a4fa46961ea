// Package github implements gitstore.API against the GitHub REST API
// (Contents and Git Data endpoints).
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/gitstore"
	"github.com/marshver/inkpost/internal/storage"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const maxResponseSize = 32 << 20

// Client talks to one repository.
type Client struct {
	baseURL   string
	owner     string
	repo      string
	token     string
	userAgent string
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (GitHub Enterprise or a
// test server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New returns a Client for owner/repo authenticated with token.
func New(owner, repo, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		owner:     owner,
		repo:      repo,
		token:     token,
		userAgent: "inkpost",
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ gitstore.API = (*Client)(nil)

type contentItem struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// ReadFile implements gitstore.API.
func (c *Client) ReadFile(ctx context.Context, p, ref string) ([]byte, error) {
	var item contentItem
	status, err := c.do(ctx, "read file", http.MethodGet, c.contentsPath(p, ref), nil, &item)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("github: read %s: %w", p, fs.ErrNotExist)
	}
	if err != nil {
		return nil, err
	}
	if item.Type != "" && item.Type != "file" {
		return nil, fmt.Errorf("github: read %s: not a file: %w", p, fs.ErrNotExist)
	}
	// Files above the contents API size limit come back without content.
	if item.Encoding == "none" && item.SHA != "" {
		return c.readBlob(ctx, item.SHA)
	}
	return decodeBase64(item.Content)
}

func (c *Client) readBlob(ctx context.Context, sha string) ([]byte, error) {
	var blob struct {
		Content string `json:"content"`
	}
	if _, err := c.do(ctx, "get blob", http.MethodGet, c.repoPath("git/blobs/"+url.PathEscape(sha)), nil, &blob); err != nil {
		return nil, err
	}
	return decodeBase64(blob.Content)
}

// ListDir implements gitstore.API.
func (c *Client) ListDir(ctx context.Context, dir, ref string) ([]storage.Entry, error) {
	var items []contentItem
	status, err := c.do(ctx, "list directory", http.MethodGet, c.contentsPath(dir, ref), nil, &items)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("github: list %s: %w", dir, fs.ErrNotExist)
	}
	if err != nil {
		return nil, err
	}
	out := make([]storage.Entry, 0, len(items))
	for _, it := range items {
		out = append(out, storage.Entry{Name: it.Name, Path: it.Path, Dir: it.Type == "dir"})
	}
	return out, nil
}

// HeadCommit implements gitstore.API.
func (c *Client) HeadCommit(ctx context.Context, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if _, err := c.do(ctx, "get ref", http.MethodGet, c.repoPath("git/ref/heads/"+escapePath(branch)), nil, &ref); err != nil {
		return "", err
	}
	return ref.Object.SHA, nil
}

// CommitTree implements gitstore.API.
func (c *Client) CommitTree(ctx context.Context, commit string) (string, error) {
	var out struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	if _, err := c.do(ctx, "get commit", http.MethodGet, c.repoPath("git/commits/"+url.PathEscape(commit)), nil, &out); err != nil {
		return "", err
	}
	return out.Tree.SHA, nil
}

type shaResponse struct {
	SHA string `json:"sha"`
}

// CreateBlob implements gitstore.API.
func (c *Client) CreateBlob(ctx context.Context, content []byte) (string, error) {
	in := map[string]string{
		"content":  base64.StdEncoding.EncodeToString(content),
		"encoding": "base64",
	}
	var out shaResponse
	if _, err := c.do(ctx, "create blob", http.MethodPost, c.repoPath("git/blobs"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateTree implements gitstore.API.
func (c *Client) CreateTree(ctx context.Context, baseTree string, entries []gitstore.TreeEntry) (string, error) {
	in := struct {
		BaseTree string               `json:"base_tree"`
		Tree     []gitstore.TreeEntry `json:"tree"`
	}{BaseTree: baseTree, Tree: entries}
	var out shaResponse
	if _, err := c.do(ctx, "create tree", http.MethodPost, c.repoPath("git/trees"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// CreateCommit implements gitstore.API.
func (c *Client) CreateCommit(ctx context.Context, message, tree, parent string) (string, error) {
	in := struct {
		Message string   `json:"message"`
		Tree    string   `json:"tree"`
		Parents []string `json:"parents"`
	}{Message: message, Tree: tree, Parents: []string{parent}}
	var out shaResponse
	if _, err := c.do(ctx, "create commit", http.MethodPost, c.repoPath("git/commits"), in, &out); err != nil {
		return "", err
	}
	return out.SHA, nil
}

// UpdateRef implements gitstore.API. The update is never forced; GitHub
// answers 422 (or 409) when the branch is not an ancestor of commit.
func (c *Client) UpdateRef(ctx context.Context, branch, commit string) error {
	in := struct {
		SHA   string `json:"sha"`
		Force bool   `json:"force"`
	}{SHA: commit, Force: false}
	status, err := c.do(ctx, "update ref", http.MethodPatch, c.repoPath("git/refs/heads/"+escapePath(branch)), in, nil)
	if status == http.StatusConflict || status == http.StatusUnprocessableEntity {
		return fmt.Errorf("github: %w: %v", gitstore.ErrRefConflict, err)
	}
	return err
}

func (c *Client) repoPath(rest string) string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + "/" + rest
}

func (c *Client) contentsPath(p, ref string) string {
	q := url.Values{}
	if ref != "" {
		q.Set("ref", ref)
	}
	out := c.repoPath("contents/" + escapePath(strings.Trim(p, "/")))
	if len(q) > 0 {
		out += "?" + q.Encode()
	}
	return out
}

// escapePath escapes every segment of a slash separated path.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

// do sends one request and decodes a 2xx JSON answer into out. It always
// returns the HTTP status when a response arrived; non-2xx answers yield an
// *apperr.UpstreamError.
func (c *Client) do(ctx context.Context, op, method, p string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("github: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+p, body)
	if err != nil {
		return 0, fmt.Errorf("github: %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, fmt.Errorf("github: %s: %w: %v", op, apperr.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("github: %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &msg)
		return resp.StatusCode, &apperr.UpstreamError{Op: op, Status: resp.StatusCode, Message: msg.Message}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("github: %s: decode: %w", op, err)
		}
	}
	return resp.StatusCode, nil
}

func decodeBase64(s string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(strings.TrimSpace(s))
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("github: decode content: %w", err)
	}
	return data, nil
}
