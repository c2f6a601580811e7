//go:build linux

package taskloop

import "golang.org/x/sys/unix"

// openWakeFDs creates the registry's wake channel. On Linux a single
// eventfd serves as both ends.
func openWakeFDs() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}
