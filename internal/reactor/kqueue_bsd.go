//go:build darwin || freebsd || netbsd || openbsd

package reactor

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vornio/swiftd/api"
)

// kqueueBackend is the Darwin/BSD Backend. No kqueue implementation exists
// anywhere in the retrieval pack; this file follows epoll_linux.go's shape
// (registration map guarded by a mutex, edge-triggered flags, an
// EVFILT_USER stop canary standing in for epoll's eventfd) translated to
// kevent/kqueue primitives.
type kqueueBackend struct {
	kq       int
	cfg      Config
	mu       sync.Mutex
	interest map[api.FileDescriptor]api.EventSet
}

const stopIdent = 1

func newKqueueBackend(cfg Config) (Backend, error) {
	return &kqueueBackend{cfg: cfg, interest: make(map[api.FileDescriptor]api.EventSet)}, nil
}

func (b *kqueueBackend) Open() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return fmt.Errorf("reactor: kqueue: %w", err)
	}
	b.kq = kq
	_, err = unix.Kevent(b.kq, []unix.Kevent_t{{
		Ident:  stopIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil)
	if err != nil {
		unix.Close(kq)
		return fmt.Errorf("reactor: kevent add stop canary: %w", err)
	}
	return nil
}

func (b *kqueueBackend) changesFor(fd api.FileDescriptor, from, to api.EventSet) []unix.Kevent_t {
	var changes []unix.Kevent_t
	addOrDel := func(filter int16, want bool) {
		flags := uint16(unix.EV_CLEAR)
		if want {
			flags |= unix.EV_ADD
		} else {
			flags |= unix.EV_DELETE
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	if from.Has(api.EventRead) != to.Has(api.EventRead) {
		addOrDel(unix.EVFILT_READ, to.Has(api.EventRead))
	}
	if from.Has(api.EventWrite) != to.Has(api.EventWrite) {
		addOrDel(unix.EVFILT_WRITE, to.Has(api.EventWrite))
	}
	return changes
}

func (b *kqueueBackend) AddEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.interest[fd]
	union := prev.Union(events)
	changes := b.changesFor(fd, prev, union)
	b.interest[fd] = union
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("reactor: kevent register: %w", err)
	}
	return nil
}

func (b *kqueueBackend) RemoveEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.interest[fd]
	remaining := prev.Remove(events)
	changes := b.changesFor(fd, prev, remaining)
	if remaining.Empty() {
		delete(b.interest, fd)
	} else {
		b.interest[fd] = remaining
	}
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(b.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("reactor: kevent unregister: %w", err)
	}
	return nil
}

func (b *kqueueBackend) GetNotifications() ([]api.Notification, error) {
	events := make([]unix.Kevent_t, b.cfg.MaxEvents)
	for {
		n, err := unix.Kevent(b.kq, nil, events, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("reactor: kevent wait: %w", err)
		}
		out := make([]api.Notification, 0, n)
		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.Filter == unix.EVFILT_USER && ev.Ident == stopIdent {
				return nil, ErrStopped
			}
			note := api.Notification{Fd: api.FileDescriptor(ev.Ident)}
			switch ev.Filter {
			case unix.EVFILT_READ:
				note.Events |= api.EventRead
			case unix.EVFILT_WRITE:
				note.Events |= api.EventWrite
			}
			if ev.Flags&unix.EV_EOF != 0 {
				if ev.Fflags != 0 {
					note.Errors |= api.NotifyIOError
				} else {
					note.Errors |= api.NotifyEndOfFile
				}
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

func (b *kqueueBackend) Stop() error {
	_, err := unix.Kevent(b.kq, []unix.Kevent_t{{
		Ident:  stopIdent,
		Filter: unix.EVFILT_USER,
		Fflags: unix.NOTE_TRIGGER,
	}}, nil, nil)
	return err
}

func (b *kqueueBackend) Close() error {
	return unix.Close(b.kq)
}
