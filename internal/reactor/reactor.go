// Package reactor implements the event queue backend: a small variant over
// {kqueue, epoll, poll} behind a single Backend interface, per spec §4.1.
// The driver that owns a Backend is single-threaded — exactly one goroutine
// calls GetNotifications at a time — mirroring the teacher's epollReactor,
// which keeps all epoll_wait calls on one goroutine and fans results out
// through callbacks/channels instead of locking the backend itself.
package reactor

import (
	"fmt"
	"time"

	"github.com/vornio/swiftd/api"
)

// Backend is the minimal contract every multiplexer implementation
// satisfies. Callers open it once, drive it from a single goroutine via
// GetNotifications, and mutate its registration set from add/remove.
type Backend interface {
	// Open allocates kernel resources (epoll/kqueue fd, poll state).
	Open() error

	// AddEvents grows the backend's interest set for fd by events.
	AddEvents(fd api.FileDescriptor, events api.EventSet) error

	// RemoveEvents shrinks the backend's interest set for fd by events. If
	// the resulting interest set is empty the fd is dropped entirely.
	RemoveEvents(fd api.FileDescriptor, events api.EventSet) error

	// GetNotifications blocks until at least one fd is ready, the backend
	// is stopped, or an error occurs, then returns the batch of ready fds.
	// An ErrStopped error means Stop was called.
	GetNotifications() ([]api.Notification, error)

	// Stop unblocks a pending or future GetNotifications call, causing it
	// to return ErrStopped. Safe to call from any goroutine.
	Stop() error

	// Close releases kernel resources. Only valid after GetNotifications
	// has returned following Stop.
	Close() error
}

// ErrStopped is returned by GetNotifications after Stop has been called.
var ErrStopped = fmt.Errorf("reactor: stopped")

// Kind selects which Backend implementation New constructs.
type Kind int

const (
	// Auto picks kqueue on Darwin/BSD, epoll on Linux, poll elsewhere.
	Auto Kind = iota
	KindEpoll
	KindKqueue
	KindPoll
)

// Config configures a Backend. PollInterval and LoopInterval apply to the
// poll fallback only; the kqueue/epoll backends block in the kernel instead
// of cooperatively yielding and use only MaxEvents.
type Config struct {
	// PollInterval bounds how long a single poll() syscall blocks.
	PollInterval time.Duration
	// LoopInterval is the cooperative yield between poll() calls when no
	// fd is registered (avoids a tight spin on an empty backend).
	LoopInterval time.Duration
	// MaxEvents bounds the notification batch size for kqueue/epoll.
	MaxEvents int
}

// DefaultConfig mirrors spec §6's defaults: maxEvents of 20, with poll
// intervals tuned for responsiveness without busy-spinning.
func DefaultConfig() Config {
	return Config{
		PollInterval: 50 * time.Millisecond,
		LoopInterval: time.Millisecond,
		MaxEvents:    20,
	}
}

// New constructs the Backend selected by kind, resolving Auto per platform.
func New(kind Kind, cfg Config) (Backend, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 20
	}
	if kind == Auto {
		kind = autoKind()
	}
	switch kind {
	case KindEpoll:
		return newEpollBackend(cfg)
	case KindKqueue:
		return newKqueueBackend(cfg)
	case KindPoll:
		return newPollBackend(cfg)
	default:
		return nil, fmt.Errorf("reactor: unknown backend kind %d", kind)
	}
}
