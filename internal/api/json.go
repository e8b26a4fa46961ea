package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/marshver/inkpost/internal/apperr"
)

// writeJSON writes v as the response body. Only successful responses on
// routes that already declared a Cache-Control policy keep it; everything
// else is no-store.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if status != http.StatusOK || w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusOf maps an error to its HTTP status and client message.
func statusOf(err error) (int, string) {
	var upstream *apperr.UpstreamError
	switch {
	case errors.Is(err, apperr.ErrInvalidSlug):
		return http.StatusBadRequest, "Invalid slug."
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "Not found."
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized."
	case errors.Is(err, apperr.ErrBanned):
		return http.StatusForbidden, "banned"
	case errors.Is(err, apperr.ErrConcurrentModification):
		return http.StatusConflict, "The post was changed concurrently, try again."
	case errors.As(err, &upstream):
		return http.StatusBadGateway, upstream.Error()
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "Upstream unavailable."
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError maps err to a status and writes it. Server-side failures are
// logged.
func writeError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	status, msg := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorBody(msg))
}
