//go:build linux

// Package nbsocket is the non-blocking socket wrapper from spec §4.3 item
// 3: it converts blocking BSD socket primitives into results that either
// produce bytes or, on EAGAIN/EWOULDBLOCK, suspend the caller on a
// socketpool.Pool until the fd is readable/writable again.
//
// Grounded on the teacher's internal/transport/transport_linux.go (raw
// golang.org/x/sys/unix socket calls, non-blocking creation), generalized
// from a single fixed TCP transport into a reusable wrapper any connection
// loop or the WebSocket framer can read/write through.
package nbsocket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/vornio/swiftd/api"
	"github.com/vornio/swiftd/internal/socketpool"
)

// Socket wraps one non-blocking file descriptor plus the pool it suspends
// on when an operation would block.
type Socket struct {
	fd   api.FileDescriptor
	pool *socketpool.Pool
}

// New wraps an already-created, already-non-blocking fd.
func New(fd api.FileDescriptor, pool *socketpool.Pool) *Socket {
	return &Socket{fd: fd, pool: pool}
}

func (s *Socket) Fd() api.FileDescriptor { return s.fd }

// Read fills buf, suspending on the pool whenever the kernel has nothing
// ready yet. Returns (0, api.ErrDisconnected) on EOF.
func (s *Socket) Read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(int(s.fd), buf)
		if err == nil {
			if n == 0 {
				return 0, api.ErrDisconnected
			}
			return n, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if _, werr := s.pool.Suspend(s.fd, api.EventRead); werr != nil {
				return 0, werr
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECONNRESET {
			return 0, api.ErrDisconnected
		}
		return 0, api.NewSocketError(api.KindFailed, "read", err)
	}
}

// Write writes all of buf, suspending on the pool on EAGAIN and retrying
// partial writes until the buffer is exhausted.
func (s *Socket) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Write(int(s.fd), buf[total:])
		if err == nil {
			total += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if _, werr := s.pool.Suspend(s.fd, api.EventWrite); werr != nil {
				return total, werr
			}
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EPIPE || err == unix.ECONNRESET {
			return total, api.ErrDisconnected
		}
		return total, api.NewSocketError(api.KindFailed, "write", err)
	}
	return total, nil
}

// Close cancels any pending Suspend on s.fd (resuming it with
// api.ErrCancelled instead of leaving it parked forever) and closes the
// underlying fd. The cancel is a no-op when the owning connection is the
// one calling Close, since by then it holds no suspend on its own socket;
// it matters when another goroutine closes the socket out from under a
// caller still blocked in Suspend, e.g. server.Server's forced-close path
// once its stop grace period elapses.
func (s *Socket) Close() error {
	s.pool.CancelFd(s.fd)
	return unix.Close(int(s.fd))
}

// Listener wraps a non-blocking listening socket for one of the three
// address families spec §6 requires: IPv4, IPv6, and UNIX-domain.
type Listener struct {
	fd   api.FileDescriptor
	pool *socketpool.Pool
	addr net.Addr
}

// Listen creates, binds, and listens on addr ("tcp", "tcp4", "tcp6", or
// "unix" network), setting O_NONBLOCK and SO_REUSEADDR per spec §6.
func Listen(network, address string, backlog int, pool *socketpool.Pool) (*Listener, error) {
	switch network {
	case "unix":
		return listenUnix(address, backlog, pool)
	default:
		return listenInet(network, address, backlog, pool)
	}
}

func listenInet(network, address string, backlog int, pool *socketpool.Pool) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, api.NewSocketError(api.KindUnsupportedAddress, "resolve", err)
	}

	domain := unix.AF_INET
	sa, v6 := toSockaddr(tcpAddr)
	if v6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, api.NewSocketError(api.KindFailed, "socket", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "setsockopt SO_REUSEADDR", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "listen", err)
	}

	resolved, err := localAddr(fd, network)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &Listener{fd: api.FileDescriptor(fd), pool: pool, addr: resolved}, nil
}

func listenUnix(path string, backlog int, pool *socketpool.Pool) (*Listener, error) {
	// Remove a stale socket file left by a previous run, per spec §6.
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		return nil, api.NewSocketError(api.KindFailed, "unlink stale unix socket", err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, api.NewSocketError(api.KindFailed, "socket", err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "listen", err)
	}

	return &Listener{fd: api.FileDescriptor(fd), pool: pool, addr: &net.UnixAddr{Name: path, Net: "unix"}}, nil
}

func (l *Listener) Addr() net.Addr { return l.addr }

func (l *Listener) Fd() api.FileDescriptor { return l.fd }

// Accept blocks (cooperatively, via Suspend) until a connection arrives,
// returning a non-blocking Socket for it.
func (l *Listener) Accept() (*Socket, error) {
	for {
		connFd, _, err := unix.Accept4(int(l.fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			return New(api.FileDescriptor(connFd), l.pool), nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if _, werr := l.pool.Suspend(l.fd, api.EventRead); werr != nil {
				return nil, werr
			}
			continue
		}
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		return nil, api.NewSocketError(api.KindFailed, "accept4", err)
	}
}

// Close cancels any pending Suspend on the listening fd (the accept loop,
// if it's currently blocked waiting for a connection) and closes it,
// unlinking a UNIX-domain path if any.
func (l *Listener) Close() error {
	l.pool.CancelFd(l.fd)
	err := unix.Close(int(l.fd))
	if ua, ok := l.addr.(*net.UnixAddr); ok {
		_ = unix.Unlink(ua.Name)
	}
	return err
}

func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, bool) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, false
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	if addr.IP != nil {
		copy(sa.Addr[:], addr.IP.To16())
	}
	return sa, true
}

func localAddr(fd int, network string) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, api.NewSocketError(api.KindFailed, "getsockname", err)
	}
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}, nil
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}, nil
	default:
		return nil, fmt.Errorf("nbsocket: unsupported sockaddr for network %q", network)
	}
}
