// Package httpx holds the JSON and error conventions shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"libranexus/internal/domain"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusOf maps an error from the core to an HTTP status and a stable code.
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrConflictingReservation):
		return http.StatusConflict, "conflicting_reservation"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrency_conflict"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "invalid_transition"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

// WriteError writes err as an ErrorResponse. Internal errors are logged and
// their text is not sent to the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// DecodeJSON reads the request body into v, rejecting unknown fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode request body: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// URLParamUUID parses a chi route parameter as a UUID.
func URLParamUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q is not a valid id", domain.ErrInvalidArgument, name, raw)
	}
	return id, nil
}

// ParseOptionalTime accepts RFC 3339 timestamps or plain dates. An empty
// string yields nil.
func ParseOptionalTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q is neither an RFC 3339 time nor a date", domain.ErrInvalidArgument, field, s)
}
