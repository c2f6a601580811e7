//go:build darwin

package taskloop

import "golang.org/x/sys/unix"

// openWakeFDs creates the registry's wake channel. Darwin has no eventfd;
// a nonblocking close-on-exec pipe stands in.
func openWakeFDs() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return -1, -1, err
		}
	}
	return fds[0], fds[1], nil
}
