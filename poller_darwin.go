//go:build darwin

package taskloop

import (
	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

// poller wraps a kqueue instance (Darwin). Filters are added without
// EV_CLEAR, keeping level-triggered semantics: a readiness condition that is
// not consumed is reported again by the next wait.
type poller struct {
	kq  int
	buf []unix.Kevent_t
}

// newPoller creates a kqueue instance reporting at most batch events per
// wait.
func newPoller(batch int) (*poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &poller{kq: kq, buf: make([]unix.Kevent_t, batch)}, nil
}

// add registers fd for the given interest.
func (x *poller) add(fd int, in Interest) error {
	changes, err := interestToKevents(fd, in, unix.EV_ADD|unix.EV_ENABLE)
	if err != nil {
		return err
	}
	if len(changes) > 0 {
		if _, err := unix.Kevent(x.kq, changes, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// mod replaces the interest of a registered fd, deleting removed filters
// and adding new ones.
func (x *poller) mod(fd int, old, in Interest) error {
	if removed := old &^ in; removed != 0 {
		changes, err := interestToKevents(fd, removed, unix.EV_DELETE)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			// Delete failures are ignored; the filter may already be gone.
			_, _ = unix.Kevent(x.kq, changes, nil, nil)
		}
	}
	if added := in &^ old; added != 0 {
		changes, err := interestToKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			if _, err := unix.Kevent(x.kq, changes, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// del removes fd's filters for the given interest.
func (x *poller) del(fd int, in Interest) error {
	changes, err := interestToKevents(fd, in, unix.EV_DELETE)
	if err != nil {
		return err
	}
	if len(changes) > 0 {
		// Delete failures are ignored; closing the fd drops filters too.
		_, _ = unix.Kevent(x.kq, changes, nil, nil)
	}
	return nil
}

// wait blocks for up to timeoutMs (negative blocks indefinitely) and fills
// events with the ready descriptors. EINTR reports zero events.
func (x *poller) wait(events []pollEvent, timeoutMs int) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}

	n, err := unix.Kevent(x.kq, nil, x.buf, ts)
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
		events[i] = pollEvent{fd: int(x.buf[i].Ident), ready: keventToInterest(&x.buf[i])}
	}
	return n, nil
}

// close closes the kqueue descriptor.
func (x *poller) close() error {
	return unix.Close(x.kq)
}

// interestToKevents converts an Interest bitmask to kevent changes for fd.
func interestToKevents(fd int, in Interest, flags uint16) ([]unix.Kevent_t, error) {
	ident, err := safecast.Conv[uint64](fd)
	if err != nil {
		return nil, ErrFDOutOfRange
	}

	var changes []unix.Kevent_t
	if in&Readable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident:  ident,
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if in&Writable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident:  ident,
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return changes, nil
}

// keventToInterest converts a kqueue event to readiness. EV_EOF folds into
// the filter's own direction (the syscall observes the close); EV_ERROR
// folds into both directions so any parked interest wakes.
func keventToInterest(kev *unix.Kevent_t) Interest {
	var ready Interest
	switch kev.Filter {
	case unix.EVFILT_READ:
		ready |= Readable
	case unix.EVFILT_WRITE:
		ready |= Writable
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		ready |= Readable | Writable
	}
	return ready
}
