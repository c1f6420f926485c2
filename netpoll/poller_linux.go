//go:build linux

package netpoll

import (
	"golang.org/x/sys/unix"
)

// epollPoller implements poller using epoll in edge-triggered mode,
// grounded on eventloop.FastPoller (eventloop/poller_linux.go).
type epollPoller struct {
	epfd     int
	eventBuf [256]unix.EpollEvent
}

func newPlatformPoller() poller { return &epollPoller{epfd: -1} }

func (p *epollPoller) init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = fd
	return nil
}

func (p *epollPoller) closeP() error {
	if p.epfd < 0 {
		return nil
	}
	return unix.Close(p.epfd)
}

func toEpoll(ev Events) uint32 {
	var e uint32 = unix.EPOLLET
	if ev&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if ev&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) Events {
	var ev Events
	if e&unix.EPOLLIN != 0 {
		ev |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if e&unix.EPOLLERR != 0 {
		ev |= EventError
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		ev |= EventHangup
	}
	return ev
}

func (p *epollPoller) add(fd int, ev Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpoll(ev),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) modify(fd int, ev Events) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpoll(ev),
		Fd:     int32(fd),
	})
}

func (p *epollPoller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeoutMs int, cb func(fd int, ev Events)) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	for i := 0; i < n; i++ {
		cb(int(p.eventBuf[i].Fd), fromEpoll(p.eventBuf[i].Events))
	}
	return n, nil
}
