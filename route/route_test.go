package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vornio/swiftd/httpmsg"
)

func okHandler() HandlerFunc {
	return func(req *httpmsg.Request, params Params) (*httpmsg.Response, error) {
		return httpmsg.NewResponse(200, nil), nil
	}
}

func req(method, path string, query ...httpmsg.QueryParam) *httpmsg.Request {
	return &httpmsg.Request{Method: method, Path: path, Query: query, Headers: httpmsg.Header{}}
}

func TestMatchPath_MiddleWildcardMatchesExactlyOneSegment(t *testing.T) {
	segs := ParsePath("/hello/*/world")

	_, ok := MatchPath(segs, "/hello/fish/world")
	assert.True(t, ok, "/hello/*/world must match /hello/fish/world")

	_, ok = MatchPath(segs, "/hello/fish/sea")
	assert.False(t, ok, "/hello/*/world must not match /hello/fish/sea")
}

func TestMatchPath_TrailingWildcardMatchesRemainder(t *testing.T) {
	segs := ParsePath("/hello/*")

	_, ok := MatchPath(segs, "/hello/a/b/c")
	assert.True(t, ok, "trailing /hello/* must match /hello/a/b/c")

	_, ok = MatchPath(segs, "/hello")
	assert.False(t, ok, "trailing /hello/* still requires at least the wildcard segment itself")
}

func TestMatchPath_CaptureBindsSegmentValue(t *testing.T) {
	segs := ParsePath("/users/:id")

	params, ok := MatchPath(segs, "/users/42")
	require.True(t, ok)
	assert.Equal(t, "42", params["id"])
}

func TestRoute_QueryWildcardPredicate(t *testing.T) {
	r := New("GET", "/hello", okHandler(), WithQuery("time", "*"))

	_, ok := r.matches(req("GET", "/hello", httpmsg.QueryParam{Name: "time", Value: "morning"}))
	assert.True(t, ok, "/hello?time=morning must match WithQuery(time, *)")

	_, ok = r.matches(req("GET", "/hello",
		httpmsg.QueryParam{Name: "count", Value: "1"},
		httpmsg.QueryParam{Name: "time", Value: "morning"}))
	assert.True(t, ok, "/hello?count=1&time=morning must match WithQuery(time, *)")

	_, ok = r.matches(req("GET", "/hello"))
	assert.False(t, ok, "/hello with no time query param must not match WithQuery(time, *)")
}

func TestRoute_QueryExactValuePredicate(t *testing.T) {
	r := New("GET", "/hello", okHandler(), WithQuery("time", "morning"))

	_, ok := r.matches(req("GET", "/hello", httpmsg.QueryParam{Name: "time", Value: "morning"}))
	assert.True(t, ok)

	_, ok = r.matches(req("GET", "/hello", httpmsg.QueryParam{Name: "time", Value: "evening"}))
	assert.False(t, ok, "an exact-value query predicate must reject a differing value")
}

func TestRoute_MethodWildcardMatchesAnyMethod(t *testing.T) {
	r := New("*", "/hello", okHandler())

	_, ok := r.matches(req("POST", "/hello"))
	assert.True(t, ok)
	_, ok = r.matches(req("DELETE", "/hello"))
	assert.True(t, ok)
}

func TestTable_FirstMatchWinsAndUnhandledFallsThrough(t *testing.T) {
	table := NewTable()

	declines := HandlerFunc(func(req *httpmsg.Request, params Params) (*httpmsg.Response, error) {
		return nil, ErrUnhandled
	})
	table.Append(New("GET", "/hello", declines))

	accepts := HandlerFunc(func(req *httpmsg.Request, params Params) (*httpmsg.Response, error) {
		return httpmsg.NewResponse(200, []byte("second")), nil
	})
	table.Append(New("GET", "/hello", accepts))

	resp, err := table.Dispatch(req("GET", "/hello"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("second"), resp.Body)
}

func TestTable_DispatchReturnsErrNoRouteWhenNothingMatches(t *testing.T) {
	table := NewTable()
	table.Append(New("GET", "/hello", okHandler()))

	_, err := table.Dispatch(req("GET", "/goodbye"))
	assert.ErrorIs(t, err, ErrNoRoute)
}
