// Package slug derives, validates and de-duplicates post slugs. A slug is
// also the post's file name, so it must be safe on every common filesystem.
package slug

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxLength is the longest slug FromTitle produces, in characters.
const MaxLength = 120

var (
	forbiddenRe = regexp.MustCompile(`[\\/:*?"<>|]`)
	controlRe   = regexp.MustCompile(`[\r\n\t]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
	trailingRe  = regexp.MustCompile(`[. ]+$`)
)

var reserved = func() map[string]struct{} {
	m := map[string]struct{}{"CON": {}, "PRN": {}, "AUX": {}, "NUL": {}}
	for i := 1; i <= 9; i++ {
		m["COM"+strconv.Itoa(i)] = struct{}{}
		m["LPT"+strconv.Itoa(i)] = struct{}{}
	}
	return m
}()

// FromTitle turns a post title into a slug. It returns "" when nothing
// usable is left.
func FromTitle(title string) string {
	s := strings.TrimSpace(title)
	s = forbiddenRe.ReplaceAllString(s, "-")
	s = controlRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	s = trailingRe.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}
	if _, ok := reserved[strings.ToUpper(s)]; ok {
		s = "_" + s
	}
	if utf8.RuneCountInString(s) > MaxLength {
		s = string([]rune(s)[:MaxLength])
		s = trailingRe.ReplaceAllString(strings.TrimSpace(s), "")
	}
	return s
}

// FromTime is the slug given to freshly created posts: the creation time in
// Unix milliseconds.
func FromTime(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Valid reports whether s can be used as a slug in a request.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	return !strings.Contains(s, "..") && !strings.ContainsAny(s, `/\`)
}

// ExistsFunc reports whether a post file already exists for slug.
type ExistsFunc func(ctx context.Context, slug string) (bool, error)

// Resolve returns base, or the first of base-2, base-3, … for which exists
// reports false. When base equals ignore (case-insensitively) ignore is
// returned without probing: a post keeps its own slug.
func Resolve(ctx context.Context, exists ExistsFunc, base, ignore string) (string, error) {
	base = strings.TrimSpace(base)
	ignore = strings.TrimSpace(ignore)
	if base == "" {
		return "", nil
	}
	if ignore != "" && strings.EqualFold(base, ignore) {
		return ignore, nil
	}

	candidate := base
	for i := 2; ; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("slug: probe %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}
