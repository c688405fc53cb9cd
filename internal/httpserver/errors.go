package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"fax/internal/domain"
)

const (
	ErrInvalidJSON      = "invalid json"
	ErrMissingID        = "missing id"
	ErrInternal         = "internal error"
	ErrRateLimited      = "Rate limit exceeded for this IP"
	ErrUploadNotFound   = "Upload not found"
	ErrInvalidMediaLink = "Invalid or expired upload URL"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a service error onto its HTTP status.
func statusFor(err error) int {
	var (
		ve   *domain.ValidationError
		ae   *domain.AuthenticationError
		ce   *domain.ConflictError
		perr *domain.ProviderError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ce):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusTooManyRequests:
		msg = ErrRateLimited
	case http.StatusInternalServerError:
		slog.Error("request failed", "err", err, "method", r.Method, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
		msg = ErrInternal
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
