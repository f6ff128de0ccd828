//go:build !windows

package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vornio/swiftd/api"
)

// pollBackend is the pure-userland fallback: a pollfd array rebuilt from
// the registration map each iteration, blocking up to cfg.PollInterval per
// poll() call and cooperatively sleeping cfg.LoopInterval when idle, per
// spec §4.1's poll variant. Grounded structurally on epoll_linux.go's
// registration-map shape; poll() itself has no kernel-side interest set to
// maintain incrementally, so Add/RemoveEvents only touch the map.
type pollBackend struct {
	cfg      Config
	mu       sync.Mutex
	interest map[api.FileDescriptor]api.EventSet
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newPollBackend(cfg Config) (Backend, error) {
	return &pollBackend{
		cfg:      cfg,
		interest: make(map[api.FileDescriptor]api.EventSet),
		stopCh:   make(chan struct{}),
	}, nil
}

func (b *pollBackend) Open() error { return nil }

func (b *pollBackend) AddEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interest[fd] = b.interest[fd].Union(events)
	return nil
}

func (b *pollBackend) RemoveEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.interest[fd].Remove(events)
	if remaining.Empty() {
		delete(b.interest, fd)
	} else {
		b.interest[fd] = remaining
	}
	return nil
}

func (b *pollBackend) snapshot() []unix.PollFd {
	b.mu.Lock()
	defer b.mu.Unlock()
	fds := make([]unix.PollFd, 0, len(b.interest))
	for fd, events := range b.interest {
		var mask int16
		if events.Has(api.EventRead) {
			mask |= unix.POLLIN
		}
		if events.Has(api.EventWrite) {
			mask |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: mask})
	}
	return fds
}

func (b *pollBackend) GetNotifications() ([]api.Notification, error) {
	for {
		select {
		case <-b.stopCh:
			return nil, ErrStopped
		default:
		}
		fds := b.snapshot()
		if len(fds) == 0 {
			select {
			case <-b.stopCh:
				return nil, ErrStopped
			case <-time.After(b.cfg.LoopInterval):
			}
			continue
		}
		n, err := unix.Poll(fds, int(b.cfg.PollInterval.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, err
		}
		if n == 0 {
			continue
		}
		out := make([]api.Notification, 0, n)
		for _, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			note := api.Notification{Fd: api.FileDescriptor(pfd.Fd)}
			if pfd.Revents&unix.POLLIN != 0 {
				note.Events |= api.EventRead
			}
			if pfd.Revents&unix.POLLOUT != 0 {
				note.Events |= api.EventWrite
			}
			if pfd.Revents&(unix.POLLHUP|unix.POLLRDHUP) != 0 && pfd.Revents&unix.POLLIN == 0 {
				note.Errors |= api.NotifyEndOfFile
			}
			if pfd.Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
				note.Errors |= api.NotifyIOError
			}
			out = append(out, note)
		}
		if len(out) == 0 {
			continue
		}
		return out, nil
	}
}

func (b *pollBackend) Stop() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	return nil
}

func (b *pollBackend) Close() error { return nil }
