package route

import (
	"bytes"
	"io"
	"sync/atomic"

	"github.com/vornio/swiftd/httpmsg"
)

// Table is the ordered, concurrently-appendable list of routes a server
// dispatches requests against. It is copy-on-write (an atomic.Pointer
// swapped on Append) so that handlers see a consistent snapshot for the
// duration of one request while routes may be appended at any time, per
// spec §4.5/§9's route table mutability note.
type Table struct {
	routes atomic.Pointer[[]*Route]
}

// NewTable returns an empty, ready-to-use Table.
func NewTable() *Table {
	t := &Table{}
	empty := []*Route{}
	t.routes.Store(&empty)
	return t
}

// Append adds route to the end of the table. Safe to call concurrently
// with Dispatch and with other Append calls.
func (t *Table) Append(r *Route) {
	for {
		old := t.routes.Load()
		next := make([]*Route, len(*old)+1)
		copy(next, *old)
		next[len(*old)] = r
		if t.routes.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Dispatch matches req against a single snapshot of the table, in order.
// A route whose predicates hold but whose Handler returns ErrUnhandled is
// skipped, per spec §4.4; if no route matches, or every matching handler
// declines, Dispatch returns ErrNoRoute so the caller can respond 404.
func (t *Table) Dispatch(req *httpmsg.Request) (*httpmsg.Response, error) {
	routes := *t.routes.Load()
	var bodyBytes []byte
	var bodyBuffered bool

	for _, r := range routes {
		params, ok := r.matches(req)
		if !ok {
			continue
		}
		if r.NeedsBody() {
			if !bodyBuffered {
				var err error
				bodyBytes, err = io.ReadAll(req.Body)
				if err != nil {
					return nil, err
				}
				bodyBuffered = true
			}
			req.Body = bytes.NewReader(bodyBytes)
			if !r.body(bodyBytes) {
				continue
			}
		}
		resp, err := r.handler.Handle(req, params)
		if err == ErrUnhandled {
			continue
		}
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, ErrNoRoute
}

// ErrNoRoute is returned by Dispatch when no route in the table matches
// req, or every matching handler declined; callers respond 404.
var ErrNoRoute = errNoRoute{}

type errNoRoute struct{}

func (errNoRoute) Error() string { return "route: no route matched" }
