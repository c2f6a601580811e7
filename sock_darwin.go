//go:build darwin

package taskloop

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysSocket opens a stream socket and marks it non-blocking and
// close-on-exec. Darwin has no SOCK_NONBLOCK or SOCK_CLOEXEC, so the flags
// are applied after creation.
func sysSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}
	syscall.CloseOnExec(fd)
	if err := syscall.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// sysAccept accepts a connection and marks the accepted descriptor
// non-blocking and close-on-exec. Darwin has no accept4.
func sysAccept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	syscall.CloseOnExec(nfd)
	if err := syscall.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}
