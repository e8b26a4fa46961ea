package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/kv"
	"github.com/marshver/inkpost/internal/postservice"
	"github.com/marshver/inkpost/internal/ratelimit"
	"github.com/marshver/inkpost/internal/readcache"
	"github.com/marshver/inkpost/internal/testutil"
)

const (
	testToken  = "secret"
	testOrigin = "https://blog.example"
)

// testEnv builds the API over an in-memory repository, mounted at /api the
// way the server mounts it.
func testEnv(t *testing.T, files map[string]string, opts ...RouterOption) http.Handler {
	t.Helper()
	store, _ := testutil.MemoryStore(t, files)
	mem := kv.NewMemory()
	cache := readcache.New(mem, testutil.Branch, []string{testOrigin}, readcache.WithLogger(testutil.Logger()))
	svc := postservice.New(store, testutil.TestDB(t),
		postservice.WithCache(cache),
		postservice.WithLogger(testutil.Logger()),
	)
	opts = append([]RouterOption{
		WithAuth(true, testToken),
		WithOrigins([]string{testOrigin}),
		WithReadCache(cache, DefaultListTTL, DefaultPostTTL),
		WithLogger(testutil.Logger()),
	}, opts...)

	root := chi.NewRouter()
	root.Mount("/api", NewRouter(svc, opts...))
	return root
}

func do(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestCORSPreflight(t *testing.T) {
	h := testEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/save", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET,POST,OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
		t.Errorf("Max-Age = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/posts", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("foreign origin: status = %d, Allow-Origin = %q", w.Code, w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestListPosts_Cacheable(t *testing.T) {
	h := testEnv(t, map[string]string{
		"src/posts/a.md": testutil.Post("A", "2024-01-01", "alpha"),
	})

	w := do(t, h, http.MethodGet, "/api/posts", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=0, s-maxage=60" {
		t.Errorf("Cache-Control = %q", got)
	}
	if w.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache = %q", w.Header().Get("X-Cache"))
	}
	list := decodeBody[PostListResponse](t, w)
	if len(list.Posts) != 1 || list.Posts[0].Slug != "a" {
		t.Fatalf("posts = %+v", list.Posts)
	}

	w = do(t, h, http.MethodGet, "/api/posts", nil, "")
	if w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("second X-Cache = %q", w.Header().Get("X-Cache"))
	}
}

func TestGetPost_PurgedWhateverTheSpelling(t *testing.T) {
	h := testEnv(t, map[string]string{
		"src/posts/a.md": testutil.Post("a", "2024-01-01", "old body"),
	})

	for _, want := range []string{"MISS", "HIT"} {
		w := do(t, h, http.MethodGet, "/api/posts/a%20", nil, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
		}
		if got := w.Header().Get("X-Cache"); got != want {
			t.Fatalf("X-Cache = %q, want %q", got, want)
		}
	}
	// Both spellings share one entry.
	if w := do(t, h, http.MethodGet, "/api/posts/a", nil, ""); w.Header().Get("X-Cache") != "HIT" {
		t.Errorf("canonical X-Cache = %q", w.Header().Get("X-Cache"))
	}

	w := do(t, h, http.MethodPost, "/api/admin/save", SaveRequest{
		Slug:    "a",
		Title:   "a",
		Content: "new body",
	}, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	if saved := decodeBody[MutationResponse](t, w); saved.Slug != "a" {
		t.Fatalf("saved = %+v", saved)
	}

	w = do(t, h, http.MethodGet, "/api/posts/a%20", nil, "")
	if got := w.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("after save X-Cache = %q", got)
	}
	post := decodeBody[PostResponse](t, w).Post
	if !strings.Contains(post.Content, "new body") || strings.Contains(post.Content, "old body") {
		t.Errorf("content = %q", post.Content)
	}
}

func TestGetPost_Errors(t *testing.T) {
	h := testEnv(t, nil)

	w := do(t, h, http.MethodGet, "/api/posts/missing", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q", got)
	}
	if body := decodeBody[errResponse](t, w); body.Error != "Not found." {
		t.Errorf("error = %q", body.Error)
	}

	w = do(t, h, http.MethodGet, "/api/posts/a..b", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid slug status = %d", w.Code)
	}

	// A failed read is not cached.
	w = do(t, h, http.MethodGet, "/api/posts/missing", nil, "")
	if w.Header().Get("X-Cache") == "HIT" {
		t.Error("404 was served from cache")
	}
}

func TestAdmin_RequiresToken(t *testing.T) {
	h := testEnv(t, nil)

	w := do(t, h, http.MethodPost, "/api/admin/create", map[string]string{}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}
	if body := decodeBody[errResponse](t, w); body.Error != "Unauthorized." {
		t.Errorf("error = %q", body.Error)
	}
	w = do(t, h, http.MethodPost, "/api/admin/create", map[string]string{}, "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/admin/create", map[string]string{}, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAdmin_AuthDisabled(t *testing.T) {
	h := testEnv(t, nil, WithAuth(false, ""))
	w := do(t, h, http.MethodPost, "/api/admin/create", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAdmin_BanAfterFailedLogins(t *testing.T) {
	store := kv.NewMemory()
	bans := ratelimit.NewBans(store, 3, time.Minute, time.Hour)
	var denied []string
	h := testEnv(t, nil,
		WithAdminRateLimit(nil, bans),
		WithDenyHook(func(reason, _ string) { denied = append(denied, reason) }),
	)

	for i := 1; i <= 2; i++ {
		if w := do(t, h, http.MethodPost, "/api/admin/create", nil, "bad"); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d", i, w.Code)
		}
	}
	if w := do(t, h, http.MethodPost, "/api/admin/create", nil, "bad"); w.Code != http.StatusForbidden {
		t.Fatalf("third attempt status = %d", w.Code)
	}
	// Even the right token is refused while banned.
	if w := do(t, h, http.MethodPost, "/api/admin/create", nil, testToken); w.Code != http.StatusForbidden {
		t.Fatalf("banned valid token status = %d", w.Code)
	}
	if len(denied) != 2 || denied[0] != ratelimit.ReasonBanned {
		t.Errorf("denied = %v", denied)
	}
}

func TestAdmin_SuccessClearsStrikes(t *testing.T) {
	bans := ratelimit.NewBans(kv.NewMemory(), 2, time.Minute, time.Hour)
	h := testEnv(t, nil, WithAdminRateLimit(nil, bans))

	do(t, h, http.MethodPost, "/api/admin/create", nil, "bad")
	do(t, h, http.MethodPost, "/api/admin/create", nil, testToken)
	if w := do(t, h, http.MethodPost, "/api/admin/create", nil, "bad"); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want strikes reset by the successful login", w.Code)
	}
}

func TestAdmin_RateLimited(t *testing.T) {
	limiter := ratelimit.NewLimiter(kv.NewMemory(), 2, time.Hour)
	h := testEnv(t, nil, WithAdminRateLimit(limiter, nil))

	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/api/admin/create", nil, testToken); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := do(t, h, http.MethodPost, "/api/admin/create", nil, testToken)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}

func TestPublic_BurstLimited(t *testing.T) {
	h := testEnv(t, nil, WithPublicRateLimit(ratelimit.NewBuckets(0.001, 1, time.Minute)))
	if w := do(t, h, http.MethodGet, "/api/posts", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/posts", nil, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", w.Code)
	}
}

func TestSave_Validation(t *testing.T) {
	h := testEnv(t, nil)

	w := do(t, h, http.MethodPost, "/api/admin/save", "{not json", testToken)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d", w.Code)
	}
	w = do(t, h, http.MethodPost, "/api/admin/save", SaveRequest{Title: "x"}, testToken)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing slug status = %d", w.Code)
	}
	if body := decodeBody[errResponse](t, w); body.Error != "Invalid slug." {
		t.Errorf("error = %q", body.Error)
	}
	w = do(t, h, http.MethodPost, "/api/admin/delete", DeleteRequest{Slug: "../etc"}, testToken)
	if w.Code != http.StatusBadRequest {
		t.Errorf("traversal slug status = %d", w.Code)
	}
}

func TestAdminFlow_CreateRenameDelete(t *testing.T) {
	h := testEnv(t, nil)

	w := do(t, h, http.MethodPost, "/api/admin/create", nil, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	created := decodeBody[MutationResponse](t, w)
	if created.Slug == "" || created.Date == "" {
		t.Fatalf("created = %+v", created)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("mutation Cache-Control = %q", w.Header().Get("Cache-Control"))
	}

	// Warm the list cache.
	do(t, h, http.MethodGet, "/api/posts", nil, "")

	w = do(t, h, http.MethodPost, "/api/admin/save", SaveRequest{
		Slug:    created.Slug,
		Title:   "Hello World",
		Content: "searchable body",
		Tags:    []string{"go"},
	}, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	saved := decodeBody[MutationResponse](t, w)
	if saved.Slug != "Hello World" {
		t.Fatalf("saved = %+v", saved)
	}

	w = do(t, h, http.MethodGet, "/api/posts", nil, "")
	if w.Header().Get("X-Cache") != "MISS" {
		t.Error("list cache was not purged")
	}
	list := decodeBody[PostListResponse](t, w)
	if len(list.Posts) != 1 || list.Posts[0].Slug != "Hello World" {
		t.Fatalf("posts = %+v", list.Posts)
	}

	w = do(t, h, http.MethodGet, "/api/posts/Hello%20World", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	post := decodeBody[PostResponse](t, w).Post
	if post.Title != "Hello World" || !strings.Contains(post.Content, "searchable body") {
		t.Errorf("post = %+v", post)
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=0, s-maxage=300" {
		t.Errorf("post Cache-Control = %q", got)
	}

	w = do(t, h, http.MethodGet, "/api/search?q=searchable", nil, "")
	results := decodeBody[SearchResponse](t, w).Results
	if len(results) != 1 || results[0].Slug != "Hello World" {
		t.Errorf("results = %+v", results)
	}

	w = do(t, h, http.MethodPost, "/api/admin/delete", DeleteRequest{Slug: "Hello World"}, testToken)
	if w.Code != http.StatusOK || !decodeBody[OKResponse](t, w).OK {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/api/posts/Hello%20World", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("deleted post status = %d", w.Code)
	}

	// Deleting again is not an error.
	if w := do(t, h, http.MethodPost, "/api/admin/delete", DeleteRequest{Slug: "Hello World"}, testToken); w.Code != http.StatusOK {
		t.Errorf("second delete status = %d", w.Code)
	}
}

func TestSearch_RequiresQuery(t *testing.T) {
	h := testEnv(t, nil)
	if w := do(t, h, http.MethodGet, "/api/search?q=%20", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := testEnv(t, nil)
	w := do(t, h, http.MethodGet, "/api/nope", nil, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if body := decodeBody[errResponse](t, w); body.Error != "Not found." {
		t.Errorf("error = %q", body.Error)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", apperr.ErrInvalidSlug), http.StatusBadRequest},
		{apperr.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("commit: %w", apperr.ErrConcurrentModification), http.StatusConflict},
		{&apperr.UpstreamError{Op: "read", Status: 503}, http.StatusBadGateway},
		{apperr.ErrMalformedIndex, http.StatusInternalServerError},
		{apperr.ErrUnauthorized, http.StatusUnauthorized},
		{apperr.ErrBanned, http.StatusForbidden},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
