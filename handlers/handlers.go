// Package handlers holds illustrative route.Handler implementations.
// spec §1 notes the included handlers are illustrative; the core only
// depends on the route.Handler interface.
package handlers

import (
	"github.com/vornio/swiftd/conn"
	"github.com/vornio/swiftd/httpmsg"
	"github.com/vornio/swiftd/route"
	"github.com/vornio/swiftd/wsframe"
)

// Hello responds 200 with a fixed body, the shape of spec §8 scenario 2.
func Hello(body string) route.Handler {
	return route.HandlerFunc(func(req *httpmsg.Request, params route.Params) (*httpmsg.Response, error) {
		return httpmsg.NewResponse(200, []byte(body)), nil
	})
}

// EchoWebSocket upgrades the connection and echoes every text message
// back to the sender until the peer closes, the shape of spec §8
// scenario 4.
func EchoWebSocket() route.Handler {
	return route.HandlerFunc(func(req *httpmsg.Request, params route.Params) (*httpmsg.Response, error) {
		resp := httpmsg.NewResponse(101, nil)
		resp.Upgrade = conn.UpgradeHandler(func(ws *wsframe.Conn) {
			for {
				msg, err := ws.Recv()
				if err != nil {
					return
				}
				if err := ws.Send(*msg); err != nil {
					return
				}
			}
		})
		return resp, nil
	})
}
