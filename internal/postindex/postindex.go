// Package postindex holds the ordered post index: a projection of every post
// file's metadata that is persisted next to the posts and rebuilt from them
// when missing.
package postindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/marshver/inkpost/internal/apperr"
	"github.com/marshver/inkpost/internal/frontmatter"
	"github.com/marshver/inkpost/internal/models"
)

// Upsert replaces or adds the entry for Slug with metadata derived from Raw,
// the full post file.
type Upsert struct {
	Slug string
	Raw  string
}

// Update is a batch of index edits applied by Apply.
type Update struct {
	RemoveSlugs []string
	Upserts     []Upsert
}

// Sort orders entries by date descending (unset dates last), then title,
// then slug. A collator is not safe for concurrent use, so each call builds
// its own.
func Sort(entries []models.PostMeta) {
	c := collate.New(language.Und)
	slices.SortStableFunc(entries, func(a, b models.PostMeta) int {
		return compare(c, a, b)
	})
}

// Compare reports the index order of a and b.
func Compare(a, b models.PostMeta) int {
	return compare(collate.New(language.Und), a, b)
}

func compare(c *collate.Collator, a, b models.PostMeta) int {
	if n := compareDateDesc(a.Date, b.Date); n != 0 {
		return n
	}
	if n := c.CompareString(a.Title, b.Title); n != 0 {
		return n
	}
	return strings.Compare(a.Slug, b.Slug)
}

func compareDateDesc(a, b string) int {
	aUnset, bUnset := a == frontmatter.DateUnset, b == frontmatter.DateUnset
	switch {
	case aUnset && bUnset:
		return 0
	case aUnset:
		return 1
	case bUnset:
		return -1
	}
	return strings.Compare(b, a)
}

// Normalize cleans one entry read from outside. It reports false for entries
// without a slug.
func Normalize(m models.PostMeta) (models.PostMeta, bool) {
	m.Slug = strings.TrimSpace(m.Slug)
	if m.Slug == "" {
		return models.PostMeta{}, false
	}
	m.Title = strings.TrimSpace(m.Title)
	if m.Title == "" {
		m.Title = m.Slug
	}
	m.Date = frontmatter.NormalizeDate(m.Date)
	m.Tags = frontmatter.NormalizeList(m.Tags)
	m.Categories = frontmatter.NormalizeList(m.Categories)
	return m, true
}

// Apply returns current with u applied and the result sorted. Removals run
// before upserts. current is never modified.
func Apply(current []models.PostMeta, u Update) []models.PostMeta {
	remove := make(map[string]struct{}, len(u.RemoveSlugs))
	for _, s := range u.RemoveSlugs {
		if s = strings.TrimSpace(s); s != "" {
			remove[s] = struct{}{}
		}
	}

	out := make([]models.PostMeta, 0, len(current)+len(u.Upserts))
	for _, m := range current {
		if _, ok := remove[m.Slug]; ok {
			continue
		}
		out = append(out, m)
	}

	for _, up := range u.Upserts {
		s := strings.TrimSpace(up.Slug)
		if s == "" || up.Raw == "" {
			continue
		}
		meta, ok := Normalize(frontmatter.ToMeta(s, up.Raw))
		if !ok {
			continue
		}
		i := slices.IndexFunc(out, func(m models.PostMeta) bool { return m.Slug == meta.Slug })
		if i >= 0 {
			out[i] = meta
		} else {
			out = append(out, meta)
		}
	}

	Sort(out)
	return out
}

// Slugs returns the slugs of entries in index order.
func Slugs(entries []models.PostMeta) []string {
	out := make([]string, len(entries))
	for i, m := range entries {
		out[i] = m.Slug
	}
	return out
}

// Contains reports whether entries has an entry for slug.
func Contains(entries []models.PostMeta, slug string) bool {
	return slices.ContainsFunc(entries, func(m models.PostMeta) bool { return m.Slug == slug })
}

type document struct {
	Posts []models.PostMeta `json:"posts"`
}

// Encode renders the persisted index document: {"posts": [...]} indented by
// two spaces with a trailing newline.
func Encode(entries []models.PostMeta) ([]byte, error) {
	if entries == nil {
		entries = []models.PostMeta{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(document{Posts: entries}); err != nil {
		return nil, fmt.Errorf("postindex: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an index document. Both {"posts": [...]} and a bare array are
// accepted; entries are normalized and sorted. Anything that is not valid
// JSON yields apperr.ErrMalformedIndex.
func Decode(data []byte) ([]models.PostMeta, error) {
	trimmed := bytes.TrimSpace(data)
	var raw []json.RawMessage
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("postindex: decode: %w: %v", apperr.ErrMalformedIndex, err)
		}
	} else {
		var doc struct {
			Posts json.RawMessage `json:"posts"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("postindex: decode: %w: %v", apperr.ErrMalformedIndex, err)
		}
		// A missing or non-array "posts" reads as an empty index.
		_ = json.Unmarshal(doc.Posts, &raw)
	}

	out := make([]models.PostMeta, 0, len(raw))
	for _, item := range raw {
		m, ok := decodeEntry(item)
		if !ok {
			continue
		}
		out = append(out, m)
	}
	Sort(out)
	return out, nil
}

// decodeEntry accepts loosely typed entries: list fields may be arrays or
// comma separated strings, scalar fields may be numbers.
func decodeEntry(item json.RawMessage) (models.PostMeta, bool) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(item))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return models.PostMeta{}, false
	}
	doc := frontmatter.Document{Fields: fields}
	return Normalize(models.PostMeta{
		Slug:       doc.String("slug"),
		Title:      doc.String("title"),
		Date:       doc.String("date"),
		Tags:       doc.List("tags"),
		Categories: doc.List("categories"),
	})
}
