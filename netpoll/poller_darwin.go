//go:build darwin

package netpoll

import (
	"golang.org/x/sys/unix"
)

// kqueuePoller implements poller using kqueue, grounded on
// eventloop.FastPoller (eventloop/poller_darwin.go).
type kqueuePoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
}

func newPlatformPoller() poller { return &kqueuePoller{kq: -1} }

func (p *kqueuePoller) init() error {
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = kq
	return nil
}

func (p *kqueuePoller) closeP() error {
	if p.kq < 0 {
		return nil
	}
	return unix.Close(p.kq)
}

func (p *kqueuePoller) changes(fd int, ev Events, flags uint16) []unix.Kevent_t {
	var out []unix.Kevent_t
	if ev&EventRead != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if ev&EventWrite != 0 {
		out = append(out, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return out
}

func (p *kqueuePoller) add(fd int, ev Events) error {
	ch := p.changes(fd, ev, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR)
	if len(ch) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, ch, nil, nil)
	return err
}

func (p *kqueuePoller) modify(fd int, ev Events) error {
	// kqueue has no direct "modify"; delete everything then re-add what's
	// still wanted. Errors from the delete half are immaterial (the
	// filter may not have existed).
	all := Events(EventRead | EventWrite)
	_, _ = unix.Kevent(p.kq, p.changes(fd, all, unix.EV_DELETE), nil, nil)
	if ev == 0 {
		return nil
	}
	return p.add(fd, ev)
}

func (p *kqueuePoller) remove(fd int) error {
	all := Events(EventRead | EventWrite)
	_, err := unix.Kevent(p.kq, p.changes(fd, all, unix.EV_DELETE), nil, nil)
	return err
}

func (p *kqueuePoller) wait(timeoutMs int, cb func(fd int, ev Events)) (int, error) {
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		kv := p.eventBuf[i]
		var ev Events
		switch kv.Filter {
		case unix.EVFILT_READ:
			ev = EventRead
		case unix.EVFILT_WRITE:
			ev = EventWrite
		}
		if kv.Flags&unix.EV_EOF != 0 {
			ev |= EventHangup
		}
		if kv.Flags&unix.EV_ERROR != 0 {
			ev |= EventError
		}
		cb(int(kv.Ident), ev)
	}
	return n, nil
}
