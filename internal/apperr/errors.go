// Package apperr defines the error kinds shared by the content store and its
// HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSlug            = errors.New("invalid slug")
	ErrNotFound               = errors.New("not found")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrMalformedIndex         = errors.New("malformed index")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrBanned                 = errors.New("banned")
)

// UpstreamError describes a non-2xx, non-404 answer from the backing service.
type UpstreamError struct {
	Op      string
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: upstream status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Message)
}

// Unwrap lets errors.Is match ErrUpstreamUnavailable.
func (e *UpstreamError) Unwrap() error { return ErrUpstreamUnavailable }
