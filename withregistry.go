package taskloop

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Source is anything owning a pollable descriptor.
type Source interface {
	Fd() int
}

// Acceptor is a source that accepts connections.
type Acceptor interface {
	Source
	Accept() (*Conn, net.Addr, error)
}

// Registrar exposes the registration operations of an executor, scoped to
// one task. [Ref] is the canonical implementation.
type Registrar interface {
	Register(src Source, tok Token, in Interest) error
	Reregister(src Source, tok Token, in Interest) error
	Deregister(src Source) error
}

var (
	_ Source    = (*Conn)(nil)
	_ Source    = (*Listener)(nil)
	_ Acceptor  = (*Listener)(nil)
	_ io.Reader = (*Conn)(nil)
	_ Registrar = (*Ref[struct{}])(nil)
)

// WithRegistry couples a source to a registrar so that poll-shaped reads
// and accepts register the descriptor on first use and translate EAGAIN
// into [Pending]. The descriptor registers exactly once, for read
// readiness, under the token derived from its descriptor number; the
// recorded wait then persists, so every subsequent [Pending] parks the task
// on the same token with no further registry traffic.
type WithRegistry struct {
	src        Source
	reg        Registrar
	registered bool
}

// Wrap couples src to reg. The registrar is typically the [Ref] of the task
// that will poll the source.
func Wrap(src Source, reg Registrar) *WithRegistry {
	return &WithRegistry{src: src, reg: reg}
}

// Inner returns the wrapped source.
func (x *WithRegistry) Inner() Source {
	return x.src
}

// ensure registers the source on first use.
func (x *WithRegistry) ensure() error {
	if x.registered {
		return nil
	}
	if err := x.reg.Register(x.src, Token(x.src.Fd()), Readable); err != nil {
		return err
	}
	x.registered = true
	return nil
}

// PollAccept attempts to accept a connection. [Pending] means no connection
// was ready and the task is set to park until one arrives. On [Ready] with
// no error, a nil connection means the listener closed and the accept
// stream ended.
func (x *WithRegistry) PollAccept() (*Conn, net.Addr, Outcome, error) {
	acceptor, ok := x.src.(Acceptor)
	if !ok {
		return nil, nil, Ready, fmt.Errorf("taskloop: source %T does not implement Acceptor", x.src)
	}
	if err := x.ensure(); err != nil {
		return nil, nil, Ready, err
	}
	conn, addr, err := acceptor.Accept()
	switch {
	case err == nil:
		return conn, addr, Ready, nil
	case errors.Is(err, unix.EAGAIN):
		return nil, nil, Pending, nil
	case errors.Is(err, unix.EBADF), errors.Is(err, unix.EINVAL):
		// Listener closed underneath us.
		return nil, nil, Ready, nil
	default:
		return nil, nil, Ready, err
	}
}

// PollRead attempts a read into p. [Pending] means the socket had no data
// and the task is set to park until the descriptor is readable. End of
// stream is [Ready] with n == 0 and [io.EOF].
func (x *WithRegistry) PollRead(p []byte) (int, Outcome, error) {
	reader, ok := x.src.(io.Reader)
	if !ok {
		return 0, Ready, fmt.Errorf("taskloop: source %T does not implement io.Reader", x.src)
	}
	if err := x.ensure(); err != nil {
		return 0, Ready, err
	}
	n, err := reader.Read(p)
	switch {
	case err == nil:
		return n, Ready, nil
	case errors.Is(err, io.EOF):
		return 0, Ready, io.EOF
	case errors.Is(err, unix.EAGAIN):
		return 0, Pending, nil
	default:
		return 0, Ready, err
	}
}

// Deregister removes the source's registration, if one was made. It is a
// no-op for a source that never registered, so it is safe to call
// unconditionally on cleanup paths.
func (x *WithRegistry) Deregister() error {
	if !x.registered {
		return nil
	}
	if err := x.reg.Deregister(x.src); err != nil {
		return err
	}
	x.registered = false
	return nil
}
