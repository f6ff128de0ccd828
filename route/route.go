package route

import (
	"errors"
	"strconv"
	"strings"

	"github.com/vornio/swiftd/httpmsg"
)

// ErrUnhandled is the signal a Handler returns to decline a request it
// otherwise matched, per spec §3/§4.4: matching continues to the next
// route; it is never visible to the peer.
var ErrUnhandled = errors.New("route: unhandled")

// Handler processes a matched Request and produces a Response, or
// declines with ErrUnhandled.
type Handler interface {
	Handle(req *httpmsg.Request, params Params) (*httpmsg.Response, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(req *httpmsg.Request, params Params) (*httpmsg.Response, error)

func (f HandlerFunc) Handle(req *httpmsg.Request, params Params) (*httpmsg.Response, error) {
	return f(req, params)
}

// Params exposes captured path segment values by name, with typed
// extraction helpers. A failed conversion signals ErrUnhandled, per
// spec §4.4 ("a failed conversion signals Unhandled").
type Params map[string]string

func (p Params) String(name string) (string, error) {
	v, ok := p[name]
	if !ok {
		return "", ErrUnhandled
	}
	return v, nil
}

func (p Params) Int(name string) (int, error) {
	s, err := p.String(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrUnhandled
	}
	return n, nil
}

// QueryPredicate requires the request to carry a query parameter named
// Name; Value "*" matches any value, else equality, per spec §4.4.
type QueryPredicate struct {
	Name  string
	Value string
}

// HeaderPredicate requires the request to carry a header named Name;
// Value "*" matches any value, else equality (case-sensitive, per spec
// §4.4's "case-sensitive value except where HTTP defines otherwise").
type HeaderPredicate struct {
	Name  string
	Value string
}

// BodyPredicate is invoked on the buffered request body; a body predicate
// forces the body to be read fully before matching, per spec §4.4.
type BodyPredicate func(body []byte) bool

// Route is one compiled pattern plus the handler invoked when every
// predicate holds, per spec's data model.
type Route struct {
	Method  string // exact method, or "*"
	segs    []Segment
	query   []QueryPredicate
	headers []HeaderPredicate
	body    BodyPredicate
	handler Handler
}

// Option configures a Route at construction.
type Option func(*Route)

// WithQuery adds a query predicate.
func WithQuery(name, value string) Option {
	return func(r *Route) { r.query = append(r.query, QueryPredicate{Name: name, Value: value}) }
}

// WithHeader adds a header predicate.
func WithHeader(name, value string) Option {
	return func(r *Route) { r.headers = append(r.headers, HeaderPredicate{Name: name, Value: value}) }
}

// WithBody adds a body predicate, forcing body buffering for matches
// against this route.
func WithBody(pred BodyPredicate) Option {
	return func(r *Route) { r.body = pred }
}

// New compiles a route pattern into a Route bound to handler.
func New(method, pathPattern string, handler Handler, opts ...Option) *Route {
	r := &Route{
		Method:  method,
		segs:    ParsePath(pathPattern),
		handler: handler,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NeedsBody reports whether matching this route requires the body to be
// buffered first.
func (r *Route) NeedsBody() bool { return r.body != nil }

// matches runs every predicate except the body predicate (which the
// caller runs separately once the body has been buffered, if needed).
func (r *Route) matches(req *httpmsg.Request) (Params, bool) {
	if r.Method != "*" && !strings.EqualFold(r.Method, req.Method) {
		return nil, false
	}
	captures, ok := MatchPath(r.segs, req.Path)
	if !ok {
		return nil, false
	}
	for _, qp := range r.query {
		val := req.QueryValue(qp.Name)
		found := false
		for _, q := range req.Query {
			if q.Name == qp.Name {
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
		if qp.Value != "*" && val != qp.Value {
			return nil, false
		}
	}
	for _, hp := range r.headers {
		val := req.Headers.Get(hp.Name)
		if val == "" && len(req.Headers.Values(hp.Name)) == 0 {
			return nil, false
		}
		if hp.Value != "*" && val != hp.Value {
			return nil, false
		}
	}
	return Params(captures), true
}
