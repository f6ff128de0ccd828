// Package server is the top-level lifecycle from spec §4.5: Start binds
// the listening socket, runs the pool driver and accept loop as concurrent
// subtasks, WaitUntilListening resolves once bound, and Stop drains
// in-flight connections before a grace period forcibly closes the rest.
//
// Grounded on lowlevel/server/run.go + server/hioload.go's Config/
// DefaultConfig/functional-options facade shape, generalized from the
// teacher's WebSocket-only HioloadWS facade to an HTTP-first server.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/vornio/swiftd/api"
	"github.com/vornio/swiftd/conn"
	"github.com/vornio/swiftd/httpmsg"
	"github.com/vornio/swiftd/internal/logging"
	"github.com/vornio/swiftd/internal/reactor"
	"github.com/vornio/swiftd/internal/socketpool"
	"github.com/vornio/swiftd/nbsocket"
	"github.com/vornio/swiftd/route"
)

// PoolKind mirrors spec §6's `pool` option: {auto, poll, eventQueue}.
type PoolKind = reactor.Kind

const (
	PoolAuto   = reactor.Auto
	PoolPoll   = reactor.KindPoll
	PoolKqueue = reactor.KindKqueue
	PoolEpoll  = reactor.KindEpoll
)

// Config enumerates the options from spec §6.
type Config struct {
	Network      string // "tcp", "tcp4", "tcp6", or "unix"
	Address      string
	Pool         PoolKind
	PollInterval time.Duration
	LoopInterval time.Duration
	MaxEvents    int
	Backlog      int
	Limits       httpmsg.Limits
	StopTimeout  time.Duration
	Log          *logging.Logger
}

// DefaultConfig mirrors the teacher's server/hioload.go DefaultConfig
// shape, generalized to this spec's option set.
func DefaultConfig() Config {
	return Config{
		Network:      "tcp",
		Address:      "127.0.0.1:0",
		Pool:         PoolAuto,
		PollInterval: 50 * time.Millisecond,
		LoopInterval: time.Millisecond,
		MaxEvents:    20,
		Backlog:      128,
		Limits:       httpmsg.DefaultLimits(),
		StopTimeout:  5 * time.Second,
		Log:          logging.Default(),
	}
}

// Option configures a Server at construction, following the teacher's
// functional-options convention.
type Option func(*Config)

func WithAddress(network, address string) Option {
	return func(c *Config) { c.Network, c.Address = network, address }
}

func WithPool(kind PoolKind) Option {
	return func(c *Config) { c.Pool = kind }
}

func WithStopTimeout(d time.Duration) Option {
	return func(c *Config) { c.StopTimeout = d }
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Config) { c.Log = l }
}

// Server owns a listening socket, a socket pool, and a route table, per
// spec §4.5's "Server lifecycle" paragraph.
type Server struct {
	cfg    Config
	pool   *socketpool.Pool
	routes *route.Table

	mu        sync.Mutex
	listener  *nbsocket.Listener
	listening chan struct{}
	active    map[*nbsocket.Socket]struct{}

	wg sync.WaitGroup
}

// New constructs a Server from DefaultConfig with opts applied.
func New(opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := socketpool.New(cfg.Pool, reactor.Config{
		PollInterval: cfg.PollInterval,
		LoopInterval: cfg.LoopInterval,
		MaxEvents:    cfg.MaxEvents,
	})
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		pool:      p,
		routes:    route.NewTable(),
		listening: make(chan struct{}),
		active:    make(map[*nbsocket.Socket]struct{}),
	}, nil
}

// AppendRoute adds a route to the server's table. Safe to call before or
// after Start, per spec §6 ("routes: ordered list, appended at any time").
func (s *Server) AppendRoute(r *route.Route) {
	s.routes.Append(r)
}

// Addr returns the bound listening address; valid only after
// WaitUntilListening has returned.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WaitUntilListening blocks until Start has bound the listening socket.
func (s *Server) WaitUntilListening() {
	<-s.listening
}

// Start binds the listening socket, transitions to listening, and runs
// the pool driver and accept loop as concurrent subtasks, per spec §4.5.
// It blocks until Stop is called or a fatal error occurs.
func (s *Server) Start() error {
	if err := s.pool.Prepare(); err != nil {
		return err
	}

	l, err := nbsocket.Listen(s.cfg.Network, s.cfg.Address, s.cfg.Backlog, s.pool)
	if err != nil {
		return api.NewSocketError(api.KindFailed, "listen", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	close(s.listening)

	driverErr := make(chan error, 1)
	go func() {
		driverErr <- s.pool.Run()
	}()

	s.acceptLoop()

	s.wg.Wait()
	<-driverErr
	return s.pool.Close()
}

func (s *Server) acceptLoop() {
	for {
		sock, err := s.listener.Accept()
		if err != nil {
			return // listener closed by Stop, or the pool was stopped
		}
		s.track(sock)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(sock)
			conn.Serve(sock, s.routes, conn.Options{Limits: s.cfg.Limits, Log: s.cfg.Log})
		}()
	}
}

func (s *Server) track(sock *nbsocket.Socket) {
	s.mu.Lock()
	s.active[sock] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sock *nbsocket.Socket) {
	s.mu.Lock()
	delete(s.active, sock)
	s.mu.Unlock()
}

// Stop stops accepting new connections, signals the pool driver to drain
// in-flight work, then after timeout forcibly closes whatever remains,
// per spec §4.5.
func (s *Server) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.StopTimeout
	}

	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}

	if err := s.pool.Stop(); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		// The grace period elapsed with a handler still running (e.g. one
		// that's sleeping outside any suspend, so the pool's Cancelled
		// broadcast never reached it). Force-close every still-tracked
		// socket so the peer observes EOF and the connection task unwinds
		// on its next read/write, per spec §4.5.
		s.mu.Lock()
		for sock := range s.active {
			_ = sock.Close()
		}
		s.mu.Unlock()
	}
	return nil
}
