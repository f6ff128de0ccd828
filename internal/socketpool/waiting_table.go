// Package socketpool implements the socket pool from spec §4.2: it owns a
// reactor.Backend and a waiting table mapping (fd, event) to suspended
// callers, resuming them as the backend reports readiness.
package socketpool

import (
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/vornio/swiftd/api"
)

var nextTokenID uint64

// Token is a unique suspended caller awaiting readiness on one fd/event
// pair, per spec's SuspensionToken. Done is a one-shot completion channel;
// exactly one Result is ever sent on it.
type Token struct {
	id     uint64
	Fd     api.FileDescriptor
	Events api.EventSet
	Done   chan Result
}

// Result is what a Token's Done channel carries: either success (the event
// subset that was actually ready) or an error (Disconnected or Cancelled).
type Result struct {
	Ready api.EventSet
	Err   error
}

func newToken(fd api.FileDescriptor, events api.EventSet) *Token {
	return &Token{
		id:     atomic.AddUint64(&nextTokenID, 1),
		Fd:     fd,
		Events: events,
		Done:   make(chan Result, 1),
	}
}

// waitingTable maps fd -> per-event FIFO lists of tokens, per spec's
// WaitingTable. Each (fd, event) list is a github.com/eapache/queue.Queue,
// giving the teacher's otherwise-dead dependency a real job: preserving
// append order for resumption per spec §5 ("for a given fd, resumptions
// preserve the order in which tokens were appended for a given event").
//
// Not safe for concurrent use; callers serialize access via Pool's mutex.
type waitingTable struct {
	readers map[api.FileDescriptor]*queue.Queue
	writers map[api.FileDescriptor]*queue.Queue
}

func newWaitingTable() *waitingTable {
	return &waitingTable{
		readers: make(map[api.FileDescriptor]*queue.Queue),
		writers: make(map[api.FileDescriptor]*queue.Queue),
	}
}

func (t *waitingTable) queueFor(fd api.FileDescriptor, event api.EventSet, create bool) *queue.Queue {
	var m map[api.FileDescriptor]*queue.Queue
	switch event {
	case api.EventRead:
		m = t.readers
	case api.EventWrite:
		m = t.writers
	default:
		return nil
	}
	q, ok := m[fd]
	if !ok {
		if !create {
			return nil
		}
		q = queue.New()
		m[fd] = q
	}
	return q
}

// registeredEvents returns the union of events with at least one waiter
// for fd, i.e. the set the backend should have registered.
func (t *waitingTable) registeredEvents(fd api.FileDescriptor) api.EventSet {
	var s api.EventSet
	if q, ok := t.readers[fd]; ok && q.Length() > 0 {
		s |= api.EventRead
	}
	if q, ok := t.writers[fd]; ok && q.Length() > 0 {
		s |= api.EventWrite
	}
	return s
}

// append registers tok for every event in tok.Events, returning the delta
// of events that transitioned from zero waiters to at least one — the set
// the caller must pass to backend.AddEvents.
func (t *waitingTable) append(tok *Token) api.EventSet {
	before := t.registeredEvents(tok.Fd)
	if tok.Events.Has(api.EventRead) {
		t.queueFor(tok.Fd, api.EventRead, true).Add(tok)
	}
	if tok.Events.Has(api.EventWrite) {
		t.queueFor(tok.Fd, api.EventWrite, true).Add(tok)
	}
	after := t.registeredEvents(tok.Fd)
	return after.Remove(before)
}

// removeToken removes tok from every event queue it was registered under
// (used by cancellation), returning the delta of events that transitioned
// to zero waiters — the set the caller must pass to backend.RemoveEvents.
func (t *waitingTable) removeToken(tok *Token) api.EventSet {
	before := t.registeredEvents(tok.Fd)
	if tok.Events.Has(api.EventRead) {
		removeFromQueue(t.readers, tok.Fd, tok.id)
	}
	if tok.Events.Has(api.EventWrite) {
		removeFromQueue(t.writers, tok.Fd, tok.id)
	}
	t.pruneEmpty(tok.Fd)
	after := t.registeredEvents(tok.Fd)
	return before.Remove(after)
}

// removeFromQueue rebuilds m[fd] without the token matching id.
// eapache/queue.Queue has no arbitrary removal, so cancellation dequeues
// everything and requeues what doesn't match; waiter lists per (fd, event)
// are expected to stay small, so this stays cheap in practice.
func removeFromQueue(m map[api.FileDescriptor]*queue.Queue, fd api.FileDescriptor, id uint64) {
	q, ok := m[fd]
	if !ok {
		return
	}
	n := q.Length()
	for i := 0; i < n; i++ {
		tok := q.Remove().(*Token)
		if tok.id != id {
			q.Add(tok)
		}
	}
}

// drainAll removes and returns every token waiting on fd for the given
// event, clearing that queue. Used by resume on a readiness notification.
func (t *waitingTable) drainAll(fd api.FileDescriptor, events api.EventSet) []*Token {
	var out []*Token
	if events.Has(api.EventRead) {
		if q, ok := t.readers[fd]; ok {
			for q.Length() > 0 {
				out = append(out, q.Remove().(*Token))
			}
		}
	}
	if events.Has(api.EventWrite) {
		if q, ok := t.writers[fd]; ok {
			for q.Length() > 0 {
				out = append(out, q.Remove().(*Token))
			}
		}
	}
	// A token waiting on both events is returned once and leaves the table
	// entirely, so it is never resumed a second time by a later notification.
	seen := make(map[uint64]bool)
	uniq := out[:0]
	for _, tok := range out {
		if seen[tok.id] {
			continue
		}
		seen[tok.id] = true
		uniq = append(uniq, tok)
		if tok.Events.Has(api.Connection) {
			removeFromQueue(t.readers, fd, tok.id)
			removeFromQueue(t.writers, fd, tok.id)
		}
	}
	out = uniq
	t.pruneEmpty(fd)
	return out
}

// drainFd removes and returns every token registered for fd regardless of
// event, used when an fd is torn down (disconnect, cancellation sweep).
func (t *waitingTable) drainFd(fd api.FileDescriptor) []*Token {
	seen := make(map[uint64]bool)
	var out []*Token
	collect := func(q *queue.Queue) {
		if q == nil {
			return
		}
		for q.Length() > 0 {
			tok := q.Remove().(*Token)
			if !seen[tok.id] {
				seen[tok.id] = true
				out = append(out, tok)
			}
		}
	}
	collect(t.readers[fd])
	collect(t.writers[fd])
	t.pruneEmpty(fd)
	return out
}

// drainEverything removes and returns every token in the table, used when
// the pool's run loop exits (stop or failure) per spec §4.2.
func (t *waitingTable) drainEverything() []*Token {
	seen := make(map[uint64]bool)
	var out []*Token
	for fd := range t.readers {
		for _, tok := range t.drainFd(fd) {
			if !seen[tok.id] {
				seen[tok.id] = true
				out = append(out, tok)
			}
		}
	}
	for fd := range t.writers {
		for _, tok := range t.drainFd(fd) {
			if !seen[tok.id] {
				seen[tok.id] = true
				out = append(out, tok)
			}
		}
	}
	return out
}

func (t *waitingTable) pruneEmpty(fd api.FileDescriptor) {
	if q, ok := t.readers[fd]; ok && q.Length() == 0 {
		delete(t.readers, fd)
	}
	if q, ok := t.writers[fd]; ok && q.Length() == 0 {
		delete(t.writers, fd)
	}
}

// isEmpty reports whether the table holds no waiters at all, matching
// spec's WaitingTable.isEmpty invariant.
func (t *waitingTable) isEmpty() bool {
	return len(t.readers) == 0 && len(t.writers) == 0
}
