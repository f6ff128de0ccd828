// Package conn is the per-connection loop from spec §4.5: for each
// accepted connection it wraps the socket, parses requests, dispatches
// them through a route.Table, writes responses, and on an upgrade hands
// off to wsframe.
//
// Grounded on the teacher's lowlevel/server/run.go (handleConnWithTracking
// shape: accept, spawn, track) and lowlevel/server/listener.go, generalized
// from WS-only listening to HTTP-first-then-optional-upgrade.
package conn

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/vornio/swiftd/api"
	"github.com/vornio/swiftd/httpmsg"
	"github.com/vornio/swiftd/internal/logging"
	"github.com/vornio/swiftd/nbsocket"
	"github.com/vornio/swiftd/route"
	"github.com/vornio/swiftd/wsframe"
)

// UpgradeHandler is invoked once a connection has been switched to
// WebSocket framing; it owns the wsframe.Conn until it returns.
type UpgradeHandler func(ws *wsframe.Conn)

// Options configures one connection's loop.
type Options struct {
	Limits  httpmsg.Limits
	Log     *logging.Logger
	OnError func(err error)
}

// Serve runs the connection loop until the peer closes, Connection: close
// is honored, or a parse/write error occurs, per spec §4.5.
func Serve(sock *nbsocket.Socket, routes *route.Table, opts Options) {
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	limits := opts.Limits
	if limits == (httpmsg.Limits{}) {
		limits = httpmsg.DefaultLimits()
	}

	r := bufio.NewReader(sock)
	defer sock.Close()

	for {
		req, err := httpmsg.ParseRequest(r, limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !api.IsDisconnected(err) {
				writeBadRequest(sock, err)
			}
			return
		}

		if wantsUpgrade(req) {
			handleUpgrade(sock, r, req, routes, opts)
			return // handed off to the WebSocket framer, or rejected; either way this loop is done
		}

		resp, derr := routes.Dispatch(req)
		if derr == route.ErrNoRoute {
			resp = httpmsg.NewResponse(404, []byte("Not Found"))
		} else if derr != nil {
			opts.reportError(derr)
			writeBadRequest(sock, derr)
			return
		}

		closeAfter := strings.EqualFold(req.Headers.Get("Connection"), "close")
		if err := httpmsg.WriteResponse(sock, resp); err != nil {
			opts.reportError(err)
			return
		}
		if closeAfter {
			return
		}
	}
}

func (o Options) reportError(err error) {
	if o.OnError != nil {
		o.OnError(err)
		return
	}
	o.Log.Warn("connection_error", logging.F("err", err))
}

func wantsUpgrade(req *httpmsg.Request) bool {
	return strings.EqualFold(req.Headers.Get("Upgrade"), "websocket")
}

// handleUpgrade validates and completes a WebSocket upgrade, dispatching
// to the route table to find the handler responsible for serving the
// resulting wsframe.Conn. The connection is handed off (or rejected) by
// the time this returns; the caller never resumes its HTTP loop.
func handleUpgrade(sock *nbsocket.Socket, r *bufio.Reader, req *httpmsg.Request, routes *route.Table, opts Options) {
	acceptKey, err := wsframe.ValidateUpgradeRequest(req)
	if err != nil {
		writeBadRequest(sock, err)
		return
	}

	resp, derr := routes.Dispatch(req)
	if derr != nil || resp == nil {
		_ = httpmsg.WriteResponse(sock, httpmsg.NewResponse(404, []byte("Not Found")))
		return
	}
	handler, ok := resp.Upgrade.(UpgradeHandler)
	if !ok {
		_ = httpmsg.WriteResponse(sock, httpmsg.NewResponse(404, []byte("Not Found")))
		return
	}

	if err := httpmsg.WriteResponse(sock, wsframe.UpgradeResponse(acceptKey)); err != nil {
		opts.reportError(err)
		return
	}

	ws := wsframe.NewConn(r, sock, true)
	handler(ws)
}

func writeBadRequest(sock *nbsocket.Socket, err error) {
	resp := httpmsg.NewResponse(400, []byte("Bad Request: "+err.Error()))
	resp.Headers.Set("Connection", "close")
	_ = httpmsg.WriteResponse(sock, resp)
}
