//go:build linux

package framesock

import (
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// fdSocket is a non-blocking TCP socket on a raw descriptor.
type fdSocket struct {
	fd     int
	remote net.Addr
	// connecting is set while a non-blocking connect is in flight.
	connecting bool
	closed     bool
}

func (s *fdSocket) Fd() int {
	return s.fd
}

func (s *fdSocket) RemoteAddr() net.Addr {
	return s.remote
}

func (s *fdSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("read", err)
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

func (s *fdSocket) Write(p []byte) (int, error) {
	if s.connecting {
		if err := s.finishConnect(); err != nil {
			return 0, err
		}
	}

	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, os.NewSyscallError("write", err)
		default:
			return n, nil
		}
	}
}

// finishConnect reports the outcome of a non-blocking connect once the socket
// became writable.
func (s *fdSocket) finishConnect() error {
	soerr, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soerr != 0 {
		return errors.Wrapf(unix.Errno(soerr), "connect %s", s.remote)
	}
	s.connecting = false
	return nil
}

func (s *fdSocket) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return os.NewSyscallError("close", unix.Close(s.fd))
}

// listener is a non-blocking listening socket.
type listener struct {
	fd     int
	addr   *net.TCPAddr
	closed bool
}

func listenTCP(addr *net.TCPAddr) (*listener, error) {
	family, sa, err := toSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(os.NewSyscallError("bind", err), "listen %s", addr)
	}
	if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("getsockname", err)
	}

	return &listener{fd: fd, addr: fromSockaddr(bound)}, nil
}

// accept returns the next pending connection, or ErrWouldBlock when none is queued.
func (l *listener) accept() (Socket, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case err == unix.EAGAIN:
			return nil, ErrWouldBlock
		case err != nil:
			return nil, os.NewSyscallError("accept4", err)
		}

		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &fdSocket{fd: fd, remote: fromSockaddr(sa)}, nil
	}
}

func (l *listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return os.NewSyscallError("close", unix.Close(l.fd))
}

// dialTCP starts a non-blocking connect. Completion is observed on the first
// write once the socket reports writable.
func dialTCP(addr *net.TCPAddr) (Socket, error) {
	family, sa, err := toSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		_ = unix.Close(fd)
		return nil, errors.Wrapf(os.NewSyscallError("connect", err), "dial %s", addr)
	}

	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return &fdSocket{fd: fd, remote: addr, connecting: err != nil}, nil
}

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr == nil {
		return 0, nil, errors.New("nil address")
	}

	if ip4 := addr.IP.To4(); ip4 != nil || len(addr.IP) == 0 {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa, nil
	}

	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		if addr.Zone != "" {
			if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
				sa.ZoneId = uint32(ifi.Index)
			}
		}
		return unix.AF_INET6, sa, nil
	}

	return 0, nil, errors.Errorf("unsupported address %s", addr)
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), sa.Addr[:]...)), Port: sa.Port}
	default:
		return &net.TCPAddr{}
	}
}
