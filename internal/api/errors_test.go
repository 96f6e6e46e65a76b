package api

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/fablehq/fable-api/internal/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestMapErrorToStatusCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperrors.Validation("prompt required"), http.StatusBadRequest},
		{"rate limit", apperrors.RateLimit("limited", time.Second), http.StatusTooManyRequests},
		{"timeout", apperrors.Timeout("deadline"), http.StatusGatewayTimeout},
		{"upstream", apperrors.Upstream("provider down", nil), http.StatusBadGateway},
		{"parse", apperrors.Parse("bad output", nil), http.StatusBadGateway},
		{"unknown", errors.New("surprise"), http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, MapErrorToStatusCode(tc.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	t.Parallel()

	// Validation messages are authored internally and pass through.
	assert.Equal(t, "prompt required",
		GetSafeErrorMessage(apperrors.Validation("prompt required")))

	// Other kinds get fixed messages that never include the cause.
	msg := GetSafeErrorMessage(apperrors.Upstream("boom", errors.New("api key AIzaLeaked")))
	assert.NotContains(t, msg, "AIzaLeaked")
	assert.NotContains(t, msg, "boom")

	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(errors.New("raw")))
}
