package socketpool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vornio/swiftd/api"
)

func TestWaitingTable_AppendDelta(t *testing.T) {
	table := newWaitingTable()
	fd := api.FileDescriptor(5)

	first := newToken(fd, api.EventRead)
	delta := table.append(first)
	assert.Equal(t, api.EventRead, delta, "first waiter on read should report a non-empty delta")

	second := newToken(fd, api.EventRead)
	delta = table.append(second)
	assert.True(t, delta.Empty(), "a second waiter on an already-registered event reports no delta")

	third := newToken(fd, api.EventWrite)
	delta = table.append(third)
	assert.Equal(t, api.EventWrite, delta, "the first waiter on write reports a delta for write only")
}

func TestWaitingTable_ResumeOrderAndEmpty(t *testing.T) {
	table := newWaitingTable()
	fd := api.FileDescriptor(7)

	a := newToken(fd, api.EventRead)
	b := newToken(fd, api.EventRead)
	table.append(a)
	table.append(b)

	woken := table.drainAll(fd, api.EventRead)
	assert.Equal(t, []*Token{a, b}, woken, "resumption preserves append order for a given fd/event")
	assert.True(t, table.isEmpty())
}

func TestWaitingTable_RemoveTokenDelta(t *testing.T) {
	table := newWaitingTable()
	fd := api.FileDescriptor(9)

	a := newToken(fd, api.EventRead)
	b := newToken(fd, api.EventRead)
	table.append(a)
	table.append(b)

	delta := table.removeToken(a)
	assert.True(t, delta.Empty(), "removing one of two waiters on read leaves the event still registered")

	delta = table.removeToken(b)
	assert.Equal(t, api.EventRead, delta, "removing the last waiter on read empties its registration")
	assert.True(t, table.isEmpty())
}

func TestWaitingTable_DrainEverything(t *testing.T) {
	table := newWaitingTable()
	a := newToken(api.FileDescriptor(1), api.EventRead)
	b := newToken(api.FileDescriptor(2), api.Connection)
	table.append(a)
	table.append(b)

	all := table.drainEverything()
	assert.Len(t, all, 2)
	assert.True(t, table.isEmpty())
}
