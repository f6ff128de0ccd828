//go:build linux

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vornio/swiftd/api"
)

// epollBackend is the Linux Backend, grounded on the teacher's
// reactor/epoll_reactor.go (epoll_create1/epoll_ctl/epoll_wait via the
// syscall package); this version uses golang.org/x/sys/unix instead (the
// teacher's transport layer already depends on it) and adds edge-triggered
// registration plus an eventfd stop canary, both required by spec §4.1.
type epollBackend struct {
	epfd     int
	stopFd   int
	cfg      Config
	mu       sync.Mutex
	interest map[api.FileDescriptor]api.EventSet
	stopped  bool
}

func newEpollBackend(cfg Config) (Backend, error) {
	return &epollBackend{cfg: cfg, interest: make(map[api.FileDescriptor]api.EventSet)}, nil
}

func (b *epollBackend) Open() error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	stopFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return fmt.Errorf("reactor: eventfd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, stopFd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(stopFd),
	}); err != nil {
		unix.Close(stopFd)
		unix.Close(epfd)
		return fmt.Errorf("reactor: epoll_ctl add stop canary: %w", err)
	}
	b.epfd = epfd
	b.stopFd = stopFd
	return nil
}

func toEpollBits(events api.EventSet) uint32 {
	var bits uint32 = unix.EPOLLET
	if events.Has(api.EventRead) {
		bits |= unix.EPOLLIN
	}
	if events.Has(api.EventWrite) {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func (b *epollBackend) AddEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev, existed := b.interest[fd]
	union := prev.Union(events)
	b.interest[fd] = union
	ev := unix.EpollEvent{Events: toEpollBits(union), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !existed {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(b.epfd, op, int(fd), &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl: %w", err)
	}
	return nil
}

func (b *epollBackend) RemoveEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.interest[fd].Remove(events)
	if remaining.Empty() {
		delete(b.interest, fd)
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil && err != unix.ENOENT {
			return fmt.Errorf("reactor: epoll_ctl del: %w", err)
		}
		return nil
	}
	b.interest[fd] = remaining
	ev := unix.EpollEvent{Events: toEpollBits(remaining), Fd: int32(fd)}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, int(fd), &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl mod: %w", err)
	}
	return nil
}

func (b *epollBackend) GetNotifications() ([]api.Notification, error) {
	events := make([]unix.EpollEvent, b.cfg.MaxEvents)
	for {
		n, err := unix.EpollWait(b.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
		}
		out := make([]api.Notification, 0, n)
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == b.stopFd {
				var buf [8]byte
				unix.Read(b.stopFd, buf[:])
				return nil, ErrStopped
			}
			note := api.Notification{Fd: api.FileDescriptor(ev.Fd)}
			if ev.Events&unix.EPOLLIN != 0 {
				note.Events |= api.EventRead
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				note.Events |= api.EventWrite
			}
			if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 && ev.Events&unix.EPOLLIN == 0 {
				note.Errors |= api.NotifyEndOfFile
			}
			if ev.Events&(unix.EPOLLERR|unix.EPOLLPRI) != 0 {
				note.Errors |= api.NotifyIOError
			}
			if note.Events.Empty() {
				b.mu.Lock()
				note.Events = b.interest[note.Fd]
				b.mu.Unlock()
			}
			out = append(out, note)
		}
		if len(out) == 0 {
			continue
		}
		return out, nil
	}
}

func (b *epollBackend) Stop() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(b.stopFd, buf[:])
	return err
}

func (b *epollBackend) Close() error {
	unix.Close(b.stopFd)
	return unix.Close(b.epfd)
}
