// Package models defines the domain types for inkpost.
package models

import "slices"

// Post is a blog post as stored on disk: frontmatter metadata plus the raw
// Markdown body with the header stripped.
type Post struct {
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Date       string   `json:"date"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Content    string   `json:"content"`
}

// Meta returns the index projection of the post.
func (p Post) Meta() PostMeta {
	return PostMeta{
		Slug:       p.Slug,
		Title:      p.Title,
		Date:       p.Date,
		Tags:       p.Tags,
		Categories: p.Categories,
	}
}

// PostMeta is one entry of the persisted post index.
type PostMeta struct {
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Date       string   `json:"date"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Equal reports whether two entries carry the same metadata.
func (m PostMeta) Equal(o PostMeta) bool {
	return m.Slug == o.Slug && m.Title == o.Title && m.Date == o.Date &&
		slices.Equal(m.Tags, o.Tags) && slices.Equal(m.Categories, o.Categories)
}
