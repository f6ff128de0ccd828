package socketpool

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vornio/swiftd/api"
	"github.com/vornio/swiftd/internal/reactor"
)

// fakeBackend is an in-memory stand-in for a reactor.Backend, letting
// tests drive notifications without touching real kernel fds.
type fakeBackend struct {
	mu       sync.Mutex
	notify   chan api.Notification
	stopped  chan struct{}
	stopOnce sync.Once
	interest map[api.FileDescriptor]api.EventSet
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		notify:   make(chan api.Notification, 16),
		stopped:  make(chan struct{}),
		interest: make(map[api.FileDescriptor]api.EventSet),
	}
}

func (b *fakeBackend) Open() error { return nil }

func (b *fakeBackend) AddEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interest[fd] = b.interest[fd].Union(events)
	return nil
}

func (b *fakeBackend) RemoveEvents(fd api.FileDescriptor, events api.EventSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interest[fd] = b.interest[fd].Remove(events)
	return nil
}

func (b *fakeBackend) GetNotifications() ([]api.Notification, error) {
	select {
	case n := <-b.notify:
		return []api.Notification{n}, nil
	case <-b.stopped:
		return nil, reactor.ErrStopped
	}
}

func (b *fakeBackend) Stop() error {
	b.stopOnce.Do(func() { close(b.stopped) })
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func newTestPool(t *testing.T) (*Pool, *fakeBackend) {
	backend := newFakeBackend()
	p := &Pool{backend: backend, table: newWaitingTable()}
	p.state.Store(int32(api.PoolUninitialized))
	require.NoError(t, p.Prepare())
	return p, backend
}

func TestPool_SuspendResumesOnNotification(t *testing.T) {
	p, backend := newTestPool(t)
	go p.Run()

	fd := api.FileDescriptor(3)
	done := make(chan struct{})
	var ready api.EventSet
	var suspendErr error
	go func() {
		ready, suspendErr = p.Suspend(fd, api.EventRead)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.interest[fd].Has(api.EventRead)
	}, time.Second, time.Millisecond, "suspend should register interest with the backend")

	backend.notify <- api.Notification{Fd: fd, Events: api.EventRead}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("suspend did not resume")
	}
	require.NoError(t, suspendErr)
	assert.Equal(t, api.EventRead, ready)

	require.NoError(t, p.Stop())
}

func TestPool_StopCancelsPendingSuspends(t *testing.T) {
	p, _ := newTestPool(t)
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run() }()

	fd := api.FileDescriptor(4)
	suspendDone := make(chan error, 1)
	go func() {
		_, err := p.Suspend(fd, api.EventRead)
		suspendDone <- err
	}()

	assert.Eventually(t, func() bool { return !p.IsEmpty() }, time.Second, time.Millisecond)

	require.NoError(t, p.Stop())

	select {
	case err := <-suspendDone:
		assert.ErrorIs(t, err, api.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("pending suspend was not cancelled on stop")
	}

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("run did not exit after stop")
	}
	assert.Equal(t, api.PoolStopped, p.State())
}

func TestPool_SuspendFailsWhenStopping(t *testing.T) {
	p, _ := newTestPool(t)
	go p.Run()
	require.NoError(t, p.Stop())
	assert.Eventually(t, func() bool { return p.State() == api.PoolStopped }, time.Second, time.Millisecond)

	_, err := p.Suspend(api.FileDescriptor(1), api.EventRead)
	assert.ErrorIs(t, err, api.ErrPoolNotReady)
}

// TestPool_CancelFdResumesPendingSuspend exercises the cancellation path
// nbsocket.Socket/Listener.Close relies on: a goroutine other than the one
// blocked in Suspend closes the fd out from under it and must be able to
// unblock that caller instead of leaving it parked forever.
func TestPool_CancelFdResumesPendingSuspend(t *testing.T) {
	p, backend := newTestPool(t)
	go p.Run()

	fd := api.FileDescriptor(7)
	suspendDone := make(chan error, 1)
	go func() {
		_, err := p.Suspend(fd, api.EventRead)
		suspendDone <- err
	}()

	assert.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return backend.interest[fd].Has(api.EventRead)
	}, time.Second, time.Millisecond)

	p.CancelFd(fd)

	select {
	case err := <-suspendDone:
		assert.ErrorIs(t, err, api.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("CancelFd did not resume the pending suspend")
	}
	assert.True(t, p.IsEmpty())

	require.NoError(t, p.Stop())
}

// TestPool_SuspendRacesCleanlyWithStop is the lost-wakeup regression from
// spec §8's "every token registered at any point is either resumed with
// success... or Cancelled; none remain pending" and §8 scenario 6 (many
// idle connections racing a shutdown): repeatedly suspend on a fresh fd
// concurrently with Stop and require every Suspend call to return instead
// of hanging, regardless of which side of the Stopping transition it
// lands on.
func TestPool_SuspendRacesCleanlyWithStop(t *testing.T) {
	for i := 0; i < 200; i++ {
		p, _ := newTestPool(t)
		runDone := make(chan struct{})
		go func() {
			p.Run()
			close(runDone)
		}()

		suspendDone := make(chan error, 1)
		go func() {
			_, err := p.Suspend(api.FileDescriptor(100+i), api.EventRead)
			suspendDone <- err
		}()

		require.NoError(t, p.Stop())

		select {
		case err := <-suspendDone:
			assert.True(t, errors.Is(err, api.ErrCancelled) || errors.Is(err, api.ErrPoolNotReady), "unexpected error: %v", err)
		case <-time.After(time.Second):
			t.Fatal("suspend raced against stop and never returned")
		}
		<-runDone
	}
}
