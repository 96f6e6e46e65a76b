package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind Kind
		code string
	}{
		{KindValidation, "VALIDATION_ERROR"},
		{KindRateLimit, "RATE_LIMIT_EXCEEDED"},
		{KindTimeout, "TIMEOUT"},
		{KindUpstream, "UPSTREAM_ERROR"},
		{KindParse, "PARSE_ERROR"},
		{KindUnknown, "UNKNOWN_ERROR"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.code, tc.kind.Code())
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	t.Parallel()

	base := Upstream("provider unavailable", errors.New("503"))
	wrapped := fmt.Errorf("submit failed: %w", base)

	assert.Equal(t, KindUpstream, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindUpstream))
	assert.False(t, IsKind(wrapped, KindTimeout))
}

func TestKindOfForeignError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	err := RateLimit("too many requests", 42*time.Second)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 42*time.Second, e.RetryAfter)
	assert.Equal(t, KindRateLimit, e.Kind)
}

func TestCoercePassthrough(t *testing.T) {
	t.Parallel()

	orig := Parse("output is not valid JSON", errors.New("unexpected token"))
	got := Coerce(fmt.Errorf("finalize: %w", orig))

	assert.Same(t, orig, got)
}

func TestCoerceForeignError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	got := Coerce(cause)

	require.NotNil(t, got)
	assert.Equal(t, KindUnknown, got.Kind)
	assert.Equal(t, "boom", got.Details)
	assert.ErrorIs(t, got, cause)
}

func TestCoerceValueNonError(t *testing.T) {
	t.Parallel()

	got := CoerceValue("panic payload")

	require.NotNil(t, got)
	assert.Equal(t, KindUnknown, got.Kind)
	assert.Equal(t, "panic payload", got.Details)
}

func TestUpstreamTransience(t *testing.T) {
	t.Parallel()

	assert.True(t, Upstream("flaky", nil).Transient)
	assert.False(t, UpstreamFatal("rejected", nil).Transient)
}
