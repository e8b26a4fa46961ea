package index

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode"

	"github.com/marshver/inkpost/internal/frontmatter"
)

// DefaultSearchLimit caps results when the caller gives no limit.
const DefaultSearchLimit = 200

const snippetLength = 140

// Field weights. A term scores for the first field it appears in, checked
// in this order.
const (
	scoreTitle    = 100
	scoreTag      = 80
	scoreCategory = 60
	scoreExcerpt  = 40
	scoreText     = 20
)

// Hit is one search result.
type Hit struct {
	Slug       string   `json:"slug"`
	Title      string   `json:"title"`
	Date       string   `json:"date"`
	Tags       []string `json:"tags,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Excerpt    string   `json:"excerpt"`
	Snippet    string   `json:"snippet"`
	Score      int      `json:"score"`
}

// Terms splits a query into lower-cased whitespace separated terms.
func Terms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Score ranks d against terms. ok is false unless every term occurs in at
// least one field.
func Score(d Document, terms []string) (score int, ok bool) {
	title := strings.ToLower(d.Title)
	excerpt := strings.ToLower(d.Excerpt)
	text := strings.ToLower(d.Text)
	anyContains := func(items []string, term string) bool {
		return slices.ContainsFunc(items, func(s string) bool {
			return strings.Contains(strings.ToLower(s), term)
		})
	}
	for _, term := range terms {
		switch {
		case strings.Contains(title, term):
			score += scoreTitle
		case anyContains(d.Tags, term):
			score += scoreTag
		case anyContains(d.Categories, term):
			score += scoreCategory
		case strings.Contains(excerpt, term):
			score += scoreExcerpt
		case strings.Contains(text, term):
			score += scoreText
		default:
			return 0, false
		}
	}
	return score, true
}

// Search returns documents containing every term of query, best first;
// equal scores are ordered by date, newest first.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var (
		where []string
		args  []any
	)
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		where = append(where, `(title_lc LIKE ? ESCAPE '\' OR tags_lc LIKE ? ESCAPE '\' OR categories_lc LIKE ? ESCAPE '\'
			OR excerpt_lc LIKE ? ESCAPE '\' OR text_lc LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT slug, title, date, tags, categories, excerpt, body_text
		FROM posts
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			d          Document
			tags, cats string
		)
		if err := rows.Scan(&d.Slug, &d.Title, &d.Date, &tags, &cats, &d.Excerpt, &d.Text); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tags), &d.Tags)
		_ = json.Unmarshal([]byte(cats), &d.Categories)

		score, ok := Score(d, terms)
		if !ok {
			continue
		}
		base := d.Excerpt
		if base == "" {
			base = d.Text
		}
		hits = append(hits, Hit{
			Slug:       d.Slug,
			Title:      d.Title,
			Date:       d.Date,
			Tags:       d.Tags,
			Categories: d.Categories,
			Excerpt:    d.Excerpt,
			Snippet:    Snippet(base, terms, snippetLength),
			Score:      score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			dateDesc(a.Date, b.Date),
			strings.Compare(a.Slug, b.Slug),
		)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// dateDesc orders newer dates first and undated posts last.
func dateDesc(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == frontmatter.DateUnset:
		return 1
	case b == frontmatter.DateUnset:
		return -1
	}
	return strings.Compare(b, a)
}

// Snippet returns up to size characters of text around the earliest term
// occurrence, with "..." marking cut ends.
func Snippet(text string, terms []string, size int) string {
	s := []rune(strings.TrimSpace(text))
	if len(s) == 0 {
		return ""
	}
	lower := make([]rune, len(s))
	for i, r := range s {
		lower[i] = unicode.ToLower(r)
	}
	hit := -1
	for _, term := range terms {
		if pos := indexRunes(lower, []rune(term)); pos >= 0 && (hit < 0 || pos < hit) {
			hit = pos
		}
	}
	if hit < 0 {
		if len(s) > size {
			return strings.TrimSpace(string(s[:size])) + "..."
		}
		return string(s)
	}

	start := max(0, hit-size/3)
	end := min(len(s), start+size)
	out := strings.TrimSpace(string(s[start:end]))
	if start > 0 {
		out = "..." + out
	}
	if end < len(s) {
		out += "..."
	}
	return out
}

func indexRunes(hay, needle []rune) int {
	if len(needle) == 0 {
		return -1
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if slices.Equal(hay[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
