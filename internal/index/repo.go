package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/marshver/inkpost/internal/checksum"
	"github.com/marshver/inkpost/internal/markdown"
	"github.com/marshver/inkpost/internal/models"
)

// Document is one searchable post.
type Document struct {
	Slug       string
	Title      string
	Date       string
	Tags       []string
	Categories []string
	Excerpt    string
	Text       string
	Checksum   string
}

// DocumentFromPost builds the search document of p.
func DocumentFromPost(p models.Post) Document {
	data, _ := json.Marshal(p)
	return Document{
		Slug:       p.Slug,
		Title:      p.Title,
		Date:       p.Date,
		Tags:       p.Tags,
		Categories: p.Categories,
		Excerpt:    markdown.Excerpt(p.Content, markdown.ExcerptLength),
		Text:       markdown.PlainText(p.Content),
		Checksum:   checksum.Sum(data),
	}
}

func lowerList(items []string) string {
	return strings.ToLower(strings.Join(items, "\n"))
}

// Upsert inserts or replaces a document.
func (db *DB) Upsert(ctx context.Context, d Document) error {
	tags, _ := json.Marshal(nonNil(d.Tags))
	cats, _ := json.Marshal(nonNil(d.Categories))
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO posts (slug, title, date, tags, categories, excerpt, body_text, checksum,
		                   title_lc, tags_lc, categories_lc, excerpt_lc, text_lc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title         = excluded.title,
			date          = excluded.date,
			tags          = excluded.tags,
			categories    = excluded.categories,
			excerpt       = excluded.excerpt,
			body_text     = excluded.body_text,
			checksum      = excluded.checksum,
			title_lc      = excluded.title_lc,
			tags_lc       = excluded.tags_lc,
			categories_lc = excluded.categories_lc,
			excerpt_lc    = excluded.excerpt_lc,
			text_lc       = excluded.text_lc,
			updated_at    = excluded.updated_at
	`, d.Slug, d.Title, d.Date, string(tags), string(cats), d.Excerpt, d.Text, d.Checksum,
		strings.ToLower(d.Title), lowerList(d.Tags), lowerList(d.Categories),
		strings.ToLower(d.Excerpt), strings.ToLower(d.Text), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("index: upsert %s: %w", d.Slug, err)
	}
	return nil
}

// Delete removes a document. Deleting an unknown slug is not an error.
func (db *DB) Delete(ctx context.Context, slug string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM posts WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("index: delete %s: %w", slug, err)
	}
	return nil
}

// Checksums returns the checksum of every indexed document keyed by slug.
func (db *DB) Checksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT slug, checksum FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var slug, cs string
		if err := rows.Scan(&slug, &cs); err != nil {
			return nil, err
		}
		out[slug] = cs
	}
	return out, rows.Err()
}

// Count returns the number of indexed documents.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
