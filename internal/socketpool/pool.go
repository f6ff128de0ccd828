package socketpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vornio/swiftd/api"
	"github.com/vornio/swiftd/internal/reactor"
)

// Pool is the socket pool from spec §4.2: it owns one reactor.Backend and
// a waiting table, and exposes Prepare/Run/Suspend/Stop. Its lifecycle
// mirrors the teacher's internal/concurrency/eventloop.go (atomic
// running/stopped flags checked by Stop) generalized from a generic event
// queue to an fd-keyed table of suspended callers.
type Pool struct {
	backend reactor.Backend
	cfg     reactor.Config

	mu    sync.Mutex
	table *waitingTable

	state atomic.Int32 // api.PoolState
}

// New constructs a Pool around the backend selected by kind.
func New(kind reactor.Kind, cfg reactor.Config) (*Pool, error) {
	backend, err := reactor.New(kind, cfg)
	if err != nil {
		return nil, err
	}
	p := &Pool{
		backend: backend,
		cfg:     cfg,
		table:   newWaitingTable(),
	}
	p.state.Store(int32(api.PoolUninitialized))
	return p, nil
}

func (p *Pool) State() api.PoolState { return api.PoolState(p.state.Load()) }

// Prepare opens the backend and transitions uninitialized/stopped -> ready,
// per spec's "Idempotent re-open after stopped is permitted."
func (p *Pool) Prepare() error {
	cur := p.State()
	if cur != api.PoolUninitialized && cur != api.PoolStopped {
		return fmt.Errorf("socketpool: prepare called in state %s: %w", cur, api.ErrInvalidState)
	}
	if err := p.backend.Open(); err != nil {
		return err
	}
	p.state.Store(int32(api.PoolReady))
	return nil
}

// Run is the long-lived driver task: it requires Ready, transitions to
// Running, and loops fetching notifications until the backend reports
// ErrStopped or a fatal error. On exit it resumes every remaining token
// with Cancelled, per spec §4.2.
//
// The transition to Stopping and the drain of every remaining token happen
// in the same critical section Suspend uses to check state and append a
// token (see Suspend below). Without that, a Suspend call could observe
// Running, then append its token after this drain already ran with no one
// left to ever resume it — a lost wakeup that violates spec §8's "if run
// terminates, every token registered at any point is either resumed... or
// Cancelled; none remain pending."
func (p *Pool) Run() error {
	if !p.state.CompareAndSwap(int32(api.PoolReady), int32(api.PoolRunning)) {
		return fmt.Errorf("socketpool: run called in state %s: %w", p.State(), api.ErrInvalidState)
	}

	var runErr error
	for {
		notes, err := p.backend.GetNotifications()
		if err != nil {
			if err != reactor.ErrStopped {
				runErr = err
			}
			break
		}
		for _, note := range notes {
			p.resume(note)
		}
	}

	p.mu.Lock()
	p.state.Store(int32(api.PoolStopping))
	toks := p.table.drainEverything()
	p.mu.Unlock()
	for _, tok := range toks {
		tok.Done <- Result{Err: api.ErrCancelled}
	}

	p.state.Store(int32(api.PoolStopped))
	return runErr
}

// resume wakes every token waiting on an intersecting event for note.Fd, in
// a single critical section, satisfying spec §4.2's ordering guarantee
// that in-flight resumes cannot race with tokens added afterward.
func (p *Pool) resume(note api.Notification) {
	var woken []*Token
	var dropped []*Token

	p.mu.Lock()
	if !note.Errors.Empty() {
		dropped = p.table.drainFd(note.Fd)
	} else {
		woken = p.table.drainAll(note.Fd, note.Events)
	}
	p.mu.Unlock()

	// Sends happen after releasing the mutex, per spec §4.2's explicit
	// priority-inversion rule.
	for _, tok := range woken {
		tok.Done <- Result{Ready: tok.Events.Intersect(note.Events)}
	}
	for _, tok := range dropped {
		tok.Done <- Result{Err: api.ErrDisconnected}
	}
}

// Suspend registers a new token waiting on events for fd and blocks until
// it is resumed, returning the ready subset or an error. It fails
// immediately if the pool is stopping or stopped, per spec §4.2.
//
// The state check and the table append happen under the same lock Run
// uses for its Stopping transition and final drain, so the two can never
// interleave: either this call's token is appended before Run's drain (and
// gets swept up in it) or Run has already transitioned to Stopping (and
// this call bails out with ErrPoolNotReady before ever appending). See the
// comment on Run.
func (p *Pool) Suspend(fd api.FileDescriptor, events api.EventSet) (api.EventSet, error) {
	tok := newToken(fd, events)

	p.mu.Lock()
	state := p.State()
	if state == api.PoolStopping || state == api.PoolStopped {
		p.mu.Unlock()
		return 0, api.ErrPoolNotReady
	}
	delta := p.table.append(tok)
	p.mu.Unlock()

	if !delta.Empty() {
		if err := p.backend.AddEvents(fd, delta); err != nil {
			p.mu.Lock()
			p.table.removeToken(tok)
			p.mu.Unlock()
			return 0, err
		}
	}

	res := <-tok.Done
	return res.Ready, res.Err
}

// CancelFd resumes every token currently suspended on fd with Cancelled
// and shrinks the backend's registration for fd to nothing. It is the
// cancellation path spec §5 describes for a caller stuck in Suspend, keyed
// by fd rather than by task: nbsocket.Socket/Listener.Close call this
// before closing their fd so that a goroutine other than the one that owns
// the socket (e.g. server.Server's forced-close path once its stop grace
// period elapses) can unblock whoever is still suspended on it instead of
// leaving that caller parked on a Done channel nobody will ever send on.
func (p *Pool) CancelFd(fd api.FileDescriptor) {
	p.mu.Lock()
	toks := p.table.drainFd(fd)
	p.mu.Unlock()
	if len(toks) == 0 {
		return
	}
	_ = p.backend.RemoveEvents(fd, api.Connection)
	for _, tok := range toks {
		tok.Done <- Result{Err: api.ErrCancelled}
	}
}

// Stop unblocks Run, causing it to drain and cancel all remaining tokens.
func (p *Pool) Stop() error {
	return p.backend.Stop()
}

// Close releases the backend's kernel resources. Only valid after Run has
// returned.
func (p *Pool) Close() error {
	return p.backend.Close()
}

// IsEmpty reports whether the waiting table currently holds no waiters,
// mirroring spec's WaitingTable.isEmpty testable property.
func (p *Pool) IsEmpty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.table.isEmpty()
}
