// Command swiftd-echo starts a server with a plain "hi" route and a
// WebSocket echo route, mirroring the teacher's examples/echo/main.go in
// spirit (a minimal runnable demonstration of the library, not a
// feature-complete application).
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vornio/swiftd/handlers"
	"github.com/vornio/swiftd/internal/logging"
	"github.com/vornio/swiftd/route"
	"github.com/vornio/swiftd/server"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	flag.Parse()

	log := logging.Default()

	srv, err := server.New(server.WithAddress("tcp", *addr), server.WithLogger(log))
	if err != nil {
		log.Error("server_new_failed", logging.F("err", err))
		os.Exit(1)
	}

	srv.AppendRoute(route.New("GET", "/hello", handlers.Hello("hi")))
	srv.AppendRoute(route.New("GET", "/socket", handlers.EchoWebSocket()))

	go func() {
		if err := srv.Start(); err != nil {
			log.Error("server_start_failed", logging.F("err", err))
		}
	}()
	srv.WaitUntilListening()
	log.Info("listening", logging.F("addr", srv.Addr()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("stopping")
	_ = srv.Stop(5 * time.Second)
}
