package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/marshver/inkpost/internal/index"
	"github.com/marshver/inkpost/internal/models"
	"github.com/marshver/inkpost/internal/postservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *postservice.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *postservice.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// slugParam returns the decoded {slug} URL parameter.
func slugParam(r *http.Request) string {
	raw := chi.URLParam(r, "slug")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return strings.TrimSpace(decoded)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

// ListPosts handles GET /api/posts.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.svc.ListPosts(r.Context())
	if err != nil {
		writeError(w, h.logger, "list posts", err)
		return
	}
	if posts == nil {
		posts = []models.PostMeta{}
	}
	writeJSON(w, http.StatusOK, PostListResponse{Posts: posts})
}

// GetPost handles GET /api/posts/{slug}.
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.svc.GetPost(r.Context(), slugParam(r))
	if err != nil {
		writeError(w, h.logger, "get post", err)
		return
	}
	writeJSON(w, http.StatusOK, PostResponse{Post: post})
}

// Search handles GET /api/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > index.DefaultSearchLimit {
		limit = index.DefaultSearchLimit
	}
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, h.logger, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// CreatePost handles POST /api/admin/create.
func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CreatePost(r.Context())
	if err != nil {
		writeError(w, h.logger, "create post", err)
		return
	}
	h.logger.Info("post created", slog.String("slug", res.Post.Slug), slog.Int("attempts", res.Commit.Attempts))
	writeJSON(w, http.StatusOK, MutationResponse{Slug: res.Post.Slug, Date: res.Post.Date})
}

// SavePost handles POST /api/admin/save.
func (h *Handler) SavePost(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if !decode(w, r, &req) {
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "save post", err)
		return
	}
	res, err := h.svc.SavePost(r.Context(), req.input())
	if err != nil {
		writeError(w, h.logger, "save post", err)
		return
	}
	h.logger.Info("post saved",
		slog.String("slug", res.Post.Slug),
		slog.String("previous_slug", res.PreviousSlug),
		slog.Int("attempts", res.Commit.Attempts),
	)
	writeJSON(w, http.StatusOK, MutationResponse{Slug: res.Post.Slug, Date: res.Post.Date})
}

// DeletePost handles POST /api/admin/delete.
func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	var req DeleteRequest
	if !decode(w, r, &req) {
		return
	}
	req.Slug = strings.TrimSpace(req.Slug)
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "delete post", err)
		return
	}
	res, err := h.svc.DeletePost(r.Context(), req.Slug)
	if err != nil {
		writeError(w, h.logger, "delete post", err)
		return
	}
	h.logger.Info("post deleted", slog.String("slug", res.Slug), slog.Bool("committed", res.Commit.Committed()))
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}
