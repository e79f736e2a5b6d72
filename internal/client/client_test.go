package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/internal/domain"
	"libranexus/internal/httpx"
)

func TestAPIErrorUnwrapsToDomainError(t *testing.T) {
	tests := map[string]error{
		"invalid_argument":        domain.ErrInvalidArgument,
		"not_found":               domain.ErrNotFound,
		"conflicting_reservation": domain.ErrConflictingReservation,
		"concurrency_conflict":    domain.ErrConcurrencyConflict,
		"invalid_transition":      domain.ErrInvalidTransition,
	}
	for code, want := range tests {
		assert.ErrorIs(t, &APIError{Code: code}, want, code)
	}
	assert.NoError(t, (&APIError{Code: "internal"}).Unwrap())
}

func TestRateLimitedRequestIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			httpx.WriteJSON(w, http.StatusTooManyRequests, httpx.ErrorResponse{Error: "slow down", Code: "rate_limited"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	require.NoError(t, c.CancelReservation(context.Background(), uuid.New()))
	assert.EqualValues(t, 2, calls.Load())
}

func TestDomainErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, httpx.ErrorResponse{Error: "can not rent", Code: "invalid_transition"})
	}))
	defer srv.Close()

	c := New(srv.URL, WithHTTPClient(srv.Client()))
	err := c.ReturnItems(context.Background(), []uuid.UUID{uuid.New()})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.EqualValues(t, 1, calls.Load())
}
