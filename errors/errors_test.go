package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(ErrCodeSessionNotFound, "session 'oc-abc' not found")
	assert.Equal(t, "SESSION_NOT_FOUND: session 'oc-abc' not found", err.Error())

	wrapped := Wrap(fmt.Errorf("disk full"), ErrCodeStoreIO, "registry save failed")
	assert.Contains(t, wrapped.Error(), "STORE_IO")
	assert.Contains(t, wrapped.Error(), "disk full")
}

func TestIsMatchesCode(t *testing.T) {
	err := SessionNotFound("oc-abc")
	assert.True(t, Is(err, ErrCodeSessionNotFound))
	assert.False(t, Is(err, ErrCodeLockTimeout))
	assert.False(t, Is(nil, ErrCodeSessionNotFound))
}

func TestIsUnwrapsNestedErrors(t *testing.T) {
	inner := LockTimeout("/tmp/store.lock", "10s")
	outer := fmt.Errorf("transaction failed: %w", inner)
	assert.True(t, Is(outer, ErrCodeLockTimeout))
	assert.Equal(t, ErrCodeLockTimeout, GetCode(outer))
}

func TestSessionNotRunningCarriesStatus(t *testing.T) {
	err := SessionNotRunning("oc-abc", "dead")
	require.NotNil(t, err.Details)
	assert.Equal(t, "dead", err.Details["status"])
	assert.Equal(t, ErrCodeSessionNotRunning, GetCode(err))
}

func TestWithDetailAccumulates(t *testing.T) {
	err := New(ErrCodeInternal, "boom").
		WithDetail("a", 1).
		WithDetail("b", "two")
	assert.Equal(t, 1, err.Details["a"])
	assert.Equal(t, "two", err.Details["b"])
}
