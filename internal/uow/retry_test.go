package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libranexus/internal/domain"
)

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		return 0, domain.ErrConcurrencyConflict
	})
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), 5, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryReturnsValue(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), 0, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}
