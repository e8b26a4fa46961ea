// Package frontmatter reads and writes the header block at the top of each
// post file and derives the post metadata from it.
//
// The header is a small line grammar, not YAML:
//
//	---
//	title: "Hello"
//	date: "2024-05-01 09:30:00"
//	tags: ["go", "blog"]
//	---
//
// Each line is `key: value`; values are decoded as a JSON array/object
// literal, a JSON string, or a raw string with surrounding quotes removed.
package frontmatter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/marshver/inkpost/internal/models"
)

const (
	// DateUnset is shown for posts without a usable date. It sorts after
	// every real date.
	DateUnset = "未设置日期"
	// Untitled is the title given to new posts.
	Untitled = "未命名"
	// PlaceholderBody is written when a post is saved with an empty body.
	PlaceholderBody = "# 未命名\n\n在这里写点什么...\n"

	delim          = "---"
	dateTimeLayout = "2006-01-02 15:04:05"
)

var (
	keyValueRe = regexp.MustCompile(`^([A-Za-z0-9_-]+)\s*:\s*(.*)$`)
	headingRe  = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	dateRe     = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:[ T](\d{2}:\d{2})(?::(\d{2}))?)?`)
	listSepRe  = regexp.MustCompile(`[,，]`)
)

// Document is a parsed post file.
type Document struct {
	Fields map[string]any
	Body   string
}

// Parse splits raw into header fields and body. A document without a
// well-formed header yields no fields and the whole input as body.
func Parse(raw string) Document {
	block, body, ok := split(raw)
	if !ok {
		return Document{Fields: map[string]any{}, Body: raw}
	}

	fields := make(map[string]any)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m := keyValueRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fields[m[1]] = decodeValue(m[2])
	}
	return Document{Fields: fields, Body: body}
}

// split locates the header. The first line must be exactly "---"; the header
// ends at the next line starting with "---".
func split(raw string) (block, body string, ok bool) {
	if !strings.HasPrefix(raw, delim) {
		return "", "", false
	}
	nl := strings.IndexByte(raw, '\n')
	if nl < 0 || strings.TrimSuffix(raw[:nl], "\r") != delim {
		return "", "", false
	}
	idx := strings.Index(raw[nl:], "\n"+delim)
	if idx < 0 {
		return "", "", false
	}
	end := nl + idx
	if end > nl {
		block = raw[nl+1 : end]
	}
	rest := raw[end+len("\n"+delim):]
	switch {
	case strings.HasPrefix(rest, "\r\n"):
		rest = rest[2:]
	case strings.HasPrefix(rest, "\n"):
		rest = rest[1:]
	}
	return block, rest, true
}

func decodeValue(v string) any {
	v = strings.TrimSpace(v)
	if (strings.HasPrefix(v, "[") && strings.HasSuffix(v, "]")) ||
		(strings.HasPrefix(v, "{") && strings.HasSuffix(v, "}")) {
		var out any
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		var s string
		if err := json.Unmarshal([]byte(v), &s); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	}
	v = trimOneQuote(v, strings.TrimPrefix)
	return trimOneQuote(v, strings.TrimSuffix)
}

func trimOneQuote(v string, trim func(string, string) string) string {
	for _, q := range []string{`"`, `'`} {
		if t := trim(v, q); t != v {
			return t
		}
	}
	return v
}

// String returns the field as a string. Lists are joined with commas.
func (d Document) String(key string) string {
	switch v := d.Fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// List returns the field as an ordered set of strings. JSON arrays and
// comma separated strings are both accepted.
func (d Document) List(key string) []string {
	switch v := d.Fields[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return NormalizeList(out)
	case string:
		return NormalizeList(listSepRe.Split(v, -1))
	default:
		return nil
	}
}

// NormalizeList trims items, drops blanks and keeps the first occurrence of
// each value.
func NormalizeList(items []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Meta holds the fields written into a post header.
type Meta struct {
	Title      string
	Date       string
	Tags       []string
	Categories []string
}

// Serialize renders a post file. Title and date are always present; tags and
// categories only when non-empty.
func Serialize(m Meta, body string) string {
	title := strings.TrimSpace(m.Title)
	if title == "" {
		title = Untitled
	}
	date := strings.TrimSpace(m.Date)
	if date == "" {
		date = FormatDateTime(time.Now())
	}
	body = strings.TrimRightFunc(strings.ReplaceAll(body, "\r\n", "\n"), unicode.IsSpace)
	if body == "" {
		body = PlaceholderBody
	}

	var b strings.Builder
	b.WriteString(delim + "\n")
	b.WriteString("title: " + encodeJSON(title) + "\n")
	b.WriteString("date: " + encodeJSON(date) + "\n")
	if tags := NormalizeList(m.Tags); len(tags) > 0 {
		b.WriteString("tags: " + encodeJSON(tags) + "\n")
	}
	if cats := NormalizeList(m.Categories); len(cats) > 0 {
		b.WriteString("categories: " + encodeJSON(cats) + "\n")
	}
	b.WriteString(delim + "\n\n")
	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}

func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// NormalizeDate canonicalizes "YYYY-MM-DD", "YYYY-MM-DD HH:mm[:ss]" and the
// same with a T separator and optional trailing Z. Empty input maps to
// DateUnset; anything else unrecognized is returned trimmed but otherwise
// unchanged.
func NormalizeDate(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return DateUnset
	}
	normalized := strings.Replace(s, "T", " ", 1)
	if strings.HasSuffix(normalized, "Z") || strings.HasSuffix(normalized, "z") {
		normalized = normalized[:len(normalized)-1]
	}
	m := dateRe.FindStringSubmatch(normalized)
	if m == nil {
		return s
	}
	if m[2] == "" {
		return m[1]
	}
	sec := m[3]
	if sec == "" {
		sec = "00"
	}
	return m[1] + " " + m[2] + ":" + sec
}

// FormatDateTime renders t in the admin's "YYYY-MM-DD HH:mm:ss" layout.
func FormatDateTime(t time.Time) string {
	return t.Format(dateTimeLayout)
}

// DeriveTitle returns the title field, else the first "# " heading of the
// body, else fallback.
func DeriveTitle(doc Document, fallback string) string {
	if t := strings.TrimSpace(doc.String("title")); t != "" {
		return t
	}
	if m := headingRe.FindStringSubmatch(doc.Body); m != nil {
		if t := strings.TrimSpace(m[1]); t != "" {
			return t
		}
	}
	return strings.TrimSpace(fallback)
}

// ToPost parses a post file stored under slug.
func ToPost(slug, raw string) models.Post {
	doc := Parse(raw)
	title := DeriveTitle(doc, slug)
	if title == "" {
		title = slug
	}
	return models.Post{
		Slug:       slug,
		Title:      title,
		Date:       NormalizeDate(doc.String("date")),
		Tags:       firstList(doc, "tags", "tag"),
		Categories: firstList(doc, "categories", "category"),
		Content:    strings.TrimSpace(doc.Body),
	}
}

// ToMeta is ToPost without the body.
func ToMeta(slug, raw string) models.PostMeta {
	return ToPost(slug, raw).Meta()
}

func firstList(doc Document, keys ...string) []string {
	for _, k := range keys {
		if l := doc.List(k); len(l) > 0 {
			return l
		}
	}
	return nil
}
