//go:build linux

package taskloop

import (
	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

// poller wraps an epoll instance (Linux). Registrations are level-triggered
// (no EPOLLET), so a readiness condition that is not consumed is reported
// again by the next wait.
type poller struct {
	epfd int
	buf  []unix.EpollEvent
}

// newPoller creates an epoll instance reporting at most batch events per
// wait.
func newPoller(batch int) (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &poller{epfd: epfd, buf: make([]unix.EpollEvent, batch)}, nil
}

// add registers fd for the given interest.
func (x *poller) add(fd int, in Interest) error {
	fd32, err := safecast.Conv[int32](fd)
	if err != nil {
		return ErrFDOutOfRange
	}
	ev := unix.EpollEvent{Events: interestToEpoll(in), Fd: fd32}
	return unix.EpollCtl(x.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// mod replaces the interest of a registered fd. The previous interest is
// unused on Linux; epoll modification is absolute.
func (x *poller) mod(fd int, _, in Interest) error {
	fd32, err := safecast.Conv[int32](fd)
	if err != nil {
		return ErrFDOutOfRange
	}
	ev := unix.EpollEvent{Events: interestToEpoll(in), Fd: fd32}
	return unix.EpollCtl(x.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// del removes fd. The previous interest is unused on Linux.
func (x *poller) del(fd int, _ Interest) error {
	return unix.EpollCtl(x.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wait blocks for up to timeoutMs (negative blocks indefinitely) and fills
// events with the ready descriptors. EINTR reports zero events.
func (x *poller) wait(events []pollEvent, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(x.epfd, x.buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n > len(events) {
		n = len(events)
	}
	for i := 0; i < n; i++ {
		events[i] = pollEvent{fd: int(x.buf[i].Fd), ready: epollToInterest(x.buf[i].Events)}
	}
	return n, nil
}

// close closes the epoll descriptor.
func (x *poller) close() error {
	return unix.Close(x.epfd)
}

// interestToEpoll converts an Interest bitmask to epoll event flags.
func interestToEpoll(in Interest) uint32 {
	var events uint32
	if in&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

// epollToInterest converts epoll event flags to readiness. Error and hangup
// conditions fold into both directions so any parked interest wakes.
func epollToInterest(events uint32) Interest {
	var ready Interest
	if events&unix.EPOLLIN != 0 {
		ready |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		ready |= Writable
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ready |= Readable | Writable
	}
	return ready
}
