//go:build darwin || freebsd || netbsd || openbsd

package nbsocket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/vornio/swiftd/api"
	"github.com/vornio/swiftd/internal/socketpool"
)

// This file mirrors socket.go's Linux variant exactly in shape and
// behavior; it exists separately because Accept4 and SOCK_NONBLOCK/
// SOCK_CLOEXEC socket-creation flags are Linux-only in golang.org/x/sys/
// unix. BSD/Darwin sockets are made non-blocking and close-on-exec via
// explicit fcntl calls instead.

type Socket struct {
	fd   api.FileDescriptor
	pool *socketpool.Pool
}

func New(fd api.FileDescriptor, pool *socketpool.Pool) *Socket {
	return &Socket{fd: fd, pool: pool}
}

func (s *Socket) Fd() api.FileDescriptor { return s.fd }

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
// underlying fd. See socket.go's Linux variant for why this matters.
func (s *Socket) Close() error {
	s.pool.CancelFd(s.fd)
	return unix.Close(int(s.fd))
}

func setNonblockCloexec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags|unix.FD_CLOEXEC)
	return err
}

type Listener struct {
	fd   api.FileDescriptor
	pool *socketpool.Pool
	addr net.Addr
}

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

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, api.NewSocketError(api.KindFailed, "socket", err)
	}
	if err := setNonblockCloexec(fd); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "fcntl", err)
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
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		return nil, api.NewSocketError(api.KindFailed, "unlink stale unix socket", err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, api.NewSocketError(api.KindFailed, "socket", err)
	}
	if err := setNonblockCloexec(fd); err != nil {
		unix.Close(fd)
		return nil, api.NewSocketError(api.KindFailed, "fcntl", err)
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

func (l *Listener) Accept() (*Socket, error) {
	for {
		connFd, _, err := unix.Accept(int(l.fd))
		if err == nil {
			if serr := setNonblockCloexec(connFd); serr != nil {
				unix.Close(connFd)
				return nil, api.NewSocketError(api.KindFailed, "fcntl accepted conn", serr)
			}
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
		return nil, api.NewSocketError(api.KindFailed, "accept", err)
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
