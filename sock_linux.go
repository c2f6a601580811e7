//go:build linux

package taskloop

import "golang.org/x/sys/unix"

// sysSocket opens a stream socket that is non-blocking and close-on-exec
// from birth.
func sysSocket(domain int) (int, error) {
	return unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// sysAccept accepts a connection with the accepted descriptor already
// non-blocking and close-on-exec.
func sysAccept(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
