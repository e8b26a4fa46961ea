package api

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/contentstore"
	"github.com/marshver/inkpost/internal/index"
	"github.com/marshver/inkpost/internal/models"
	"github.com/marshver/inkpost/internal/slug"
)

// maxBodyBytes bounds admin request bodies.
const maxBodyBytes = 10 << 20

var validSlug = validation.By(func(v any) error {
	s, _ := v.(string)
	if s != "" && !slug.Valid(s) {
		return errors.New("must not contain '..', '/' or '\\'")
	}
	return nil
})

// invalid tags a validation failure as a bad slug.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", apperr.ErrInvalidSlug, err)
}

// SaveRequest is the request body of POST /api/admin/save. Omitted tags or
// categories keep the stored values.
type SaveRequest struct {
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

func (r SaveRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Slug, validation.Required, validSlug),
	))
}

func (r SaveRequest) input() contentstore.SaveInput {
	return contentstore.SaveInput{
		Slug:       r.Slug,
		Title:      r.Title,
		Content:    r.Content,
		Tags:       r.Tags,
		Categories: r.Categories,
	}
}

// DeleteRequest is the request body of POST /api/admin/delete.
type DeleteRequest struct {
	Slug string `json:"slug"`
}

func (r DeleteRequest) Validate() error {
	return invalid(validation.ValidateStruct(&r,
		validation.Field(&r.Slug, validation.Required, validSlug),
	))
}

// PostListResponse wraps the post index.
type PostListResponse struct {
	Posts []models.PostMeta `json:"posts"`
}

// PostResponse wraps one post.
type PostResponse struct {
	Post models.Post `json:"post"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.Hit `json:"results"`
}

// MutationResponse is returned by create and save.
type MutationResponse struct {
	Slug string `json:"slug"`
	Date string `json:"date"`
}

// OKResponse is returned by delete.
type OKResponse struct {
	OK bool `json:"ok"`
}
