package taskloop

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Listener is a non-blocking TCP listening socket, suitable for
// registration with an executor. It is not a [net.Listener]: Accept never
// blocks, reporting EAGAIN when no connection is pending.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// Listen opens a non-blocking TCP listening socket on addr, which must be
// in "host:port" form with the host empty or an IP literal (name resolution
// is the caller's problem). Port zero binds an ephemeral port; Addr reports
// the bound address.
func Listen(addr string) (*Listener, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return nil, err
	}
	ip := net.IPv4zero
	if host != "" {
		if ip = net.ParseIP(host); ip == nil {
			return nil, fmt.Errorf("taskloop: listen host %q is not an IP literal", host)
		}
	}

	var domain int
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		domain = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: port, Addr: [4]byte(ip4)}
	} else {
		domain = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: port, Addr: [16]byte(ip.To16())}
	}

	fd, err := sysSocket(domain)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	tcpAddr, _ := sockaddrTCPAddr(bound).(*net.TCPAddr)
	return &Listener{fd: fd, addr: tcpAddr}, nil
}

// Fd returns the listening descriptor.
func (x *Listener) Fd() int {
	return x.fd
}

// Addr returns the bound address.
func (x *Listener) Addr() net.Addr {
	return x.addr
}

// Accept accepts one pending connection, returned already non-blocking and
// close-on-exec. Interrupted and aborted accepts are retried; EAGAIN is
// returned as-is, so callers integrating with an executor can translate it
// into a pending poll.
func (x *Listener) Accept() (*Conn, net.Addr, error) {
	for {
		fd, sa, err := sysAccept(x.fd)
		switch err {
		case nil:
			remote := sockaddrTCPAddr(sa)
			return &Conn{fd: fd, remote: remote}, remote, nil
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			return nil, nil, err
		}
	}
}

// Close closes the listening descriptor.
func (x *Listener) Close() error {
	return unix.Close(x.fd)
}

// Conn is a non-blocking stream socket. Read and Write map directly onto
// single syscalls: both report EAGAIN when the socket is not ready, and a
// single Write may be short. It implements [io.Reader], [io.Writer] and
// [io.Closer].
type Conn struct {
	fd     int
	remote net.Addr
}

// NewConn wraps an existing descriptor, which must already be non-blocking.
// remote may be nil.
func NewConn(fd int, remote net.Addr) *Conn {
	return &Conn{fd: fd, remote: remote}
}

// Fd returns the connection's descriptor.
func (x *Conn) Fd() int {
	return x.fd
}

// RemoteAddr returns the peer address, if known.
func (x *Conn) RemoteAddr() net.Addr {
	return x.remote
}

// Read reads from the socket. A zero-length read of a non-empty buffer
// means the peer shut down the stream, reported as [io.EOF]. EAGAIN is
// returned as-is.
func (x *Conn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(x.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Write writes to the socket with a single syscall; callers observe short
// writes through the returned count. EAGAIN is returned as-is.
func (x *Conn) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(x.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// Close closes the descriptor. Closing a registered connection also drops
// its registration at the OS level, but the registry entry should still be
// deregistered first.
func (x *Conn) Close() error {
	return unix.Close(x.fd)
}

// sockaddrTCPAddr converts a socket address into a [net.TCPAddr]. Unknown
// address families yield nil.
func sockaddrTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	default:
		return nil
	}
}
