package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventSet_SetOperations(t *testing.T) {
	rw := EventRead.Union(EventWrite)
	assert.True(t, rw.Has(EventRead))
	assert.True(t, rw.Has(EventWrite))
	assert.Equal(t, Connection, rw)

	assert.Equal(t, EventRead, rw.Intersect(EventRead))
	assert.Equal(t, EventWrite, rw.Remove(EventRead))
	assert.True(t, EventSet(0).Empty())
	assert.False(t, rw.Empty())
}

func TestEventSet_String(t *testing.T) {
	assert.Equal(t, "read|write", Connection.String())
	assert.Equal(t, "read", EventRead.String())
	assert.Equal(t, "write", EventWrite.String())
	assert.Equal(t, "none", EventSet(0).String())
}

func TestPoolState_String(t *testing.T) {
	assert.Equal(t, "ready", PoolReady.String())
	assert.Equal(t, "unknown", PoolState(99).String())
}
