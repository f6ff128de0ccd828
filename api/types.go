// Package api holds the small, shared vocabulary that the reactor, socket
// pool, and non-blocking socket wrapper all speak: file descriptors, event
// sets, readiness notifications, and the pool's lifecycle states.
//
// It plays the role the teacher repo's api package plays for Buffer,
// Transport, and Handler: a narrow, dependency-free layer that every other
// package imports instead of redeclaring its own vocabulary.
package api

import "fmt"

// FileDescriptor is a typed OS-level socket handle. Closing it is the
// owner's responsibility; a closed FileDescriptor must never be passed to
// a Backend or Pool again.
type FileDescriptor int32

func (fd FileDescriptor) String() string {
	return fmt.Sprintf("fd(%d)", int32(fd))
}

// EventSet is a small set over {read, write}.
type EventSet uint8

const (
	EventRead EventSet = 1 << iota
	EventWrite
)

// Connection is the event set a freshly accepted connection waits on by
// convention ({read, write}), per spec.md's data model.
const Connection = EventRead | EventWrite

// Has reports whether s contains every event in o.
func (s EventSet) Has(o EventSet) bool { return s&o == o }

// Intersects reports whether s and o share at least one event.
func (s EventSet) Intersects(o EventSet) bool { return s&o != 0 }

// Union returns the monotone union of s and o.
func (s EventSet) Union(o EventSet) EventSet { return s | o }

// Intersect returns the monotone intersection of s and o.
func (s EventSet) Intersect(o EventSet) EventSet { return s & o }

// Remove returns s with every event in o cleared.
func (s EventSet) Remove(o EventSet) EventSet { return s &^ o }

// Empty reports whether the set contains no events.
func (s EventSet) Empty() bool { return s == 0 }

func (s EventSet) String() string {
	switch {
	case s.Has(EventRead) && s.Has(EventWrite):
		return "read|write"
	case s.Has(EventRead):
		return "read"
	case s.Has(EventWrite):
		return "write"
	default:
		return "none"
	}
}

// NotifyError is a small set over the error conditions a backend can report
// alongside a Notification.
type NotifyError uint8

const (
	NotifyEndOfFile NotifyError = 1 << iota
	NotifyIOError
)

func (e NotifyError) Empty() bool { return e == 0 }

// Notification is what a Backend emits for one ready file descriptor.
type Notification struct {
	Fd     FileDescriptor
	Events EventSet
	Errors NotifyError
}

// PoolState tracks the socket pool's lifecycle, per spec.md §4.2.
type PoolState int32

const (
	PoolUninitialized PoolState = iota
	PoolReady
	PoolRunning
	PoolStopping
	PoolStopped
)

func (s PoolState) String() string {
	switch s {
	case PoolUninitialized:
		return "uninitialized"
	case PoolReady:
		return "ready"
	case PoolRunning:
		return "running"
	case PoolStopping:
		return "stopping"
	case PoolStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
