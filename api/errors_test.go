package api

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocketError_Predicates(t *testing.T) {
	assert.True(t, IsBlocked(ErrBlocked))
	assert.True(t, IsDisconnected(ErrDisconnected))
	assert.True(t, IsCancelled(ErrCancelled))
	assert.False(t, IsBlocked(ErrDisconnected))
}

func TestSocketError_Unwrap(t *testing.T) {
	inner := errors.New("ECONNRESET")
	wrapped := NewSocketError(KindFailed, "read", inner)
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), "read")
}
