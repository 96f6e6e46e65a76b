package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresetsAreWellFormed(t *testing.T) {
	t.Parallel()

	for name, policy := range map[string]Policy{
		"interactive": Interactive(),
		"background":  Background(),
		"critical":    Critical(),
	} {
		assert.Positive(t, policy.MaxRetries, name)
		assert.Positive(t, policy.BaseDelay, name)
		assert.GreaterOrEqual(t, policy.MaxDelay, policy.BaseDelay, name)
		assert.GreaterOrEqual(t, policy.BackoffMultiplier, 1.0, name)
		assert.Positive(t, policy.Timeout, name)
		assert.True(t, policy.Jitter, name)
	}
}

func TestPresetsEscalateBudgets(t *testing.T) {
	t.Parallel()

	assert.Less(t, Interactive().MaxRetries, Background().MaxRetries)
	assert.Less(t, Background().MaxRetries, Critical().MaxRetries)
	assert.Less(t, Interactive().Timeout, Background().Timeout)
	assert.Less(t, Background().Timeout, Critical().Timeout)
}
