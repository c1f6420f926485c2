// Package hook provides the fiber-transparent blocking I/O substitute
// for the runtime: the "do-io" template that turns a raw nonblocking
// syscall into an apparently blocking call by suspending the calling
// fiber on package netpoll instead of the OS thread.
//
// A C/C++ fiber runtime typically intercepts libc's read/write/accept/
// connect/sleep symbols via dynamic linker hooking so unmodified code
// gets fiber-aware I/O for free. Go offers no equivalent interception
// point, so this package instead exposes an explicit nonblocking-socket
// wrapper (grounded on the raw-epoll demo server's setNonblock +
// EAGAIN-driven retry loop in other_examples) that callers use in place
// of net.Conn directly — the one deliberate mechanism-level substitution
// in this runtime, mirroring how package fiber substitutes a
// goroutine-per-fiber for assembly stack switching.
package hook

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wyzrun/fiberd/netpoll"
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("hook: connection closed")

// Conn wraps a *net.TCPConn (or any net.Conn backed by a raw,
// SyscallConn-capable file descriptor) so that Read/Write/Close suspend
// the calling fiber on I/O readiness via an *netpoll.Manager rather than
// blocking the underlying OS thread.
//
// Every Conn method must be called from within a fiber owned by the
// same Manager; calling from outside a fiber panics (via
// netpoll.Manager.WaitReady).
type Conn struct {
	raw     net.Conn
	mgr     *netpoll.Manager
	fd      int
	closed  bool
	readTO  time.Duration
	writeTO time.Duration
}

// syscallConner is the subset of net.Conn that exposes SyscallConn,
// satisfied by *net.TCPConn and *net.UnixConn.
type syscallConner interface {
	SyscallConn() (syscallRawConn, error)
}

// Wrap adapts conn (typically a *net.TCPConn fresh from Dial/Accept)
// into a fiber-suspending Conn. The underlying descriptor is switched to
// nonblocking mode, matching the raw-epoll demo's setNonblock step.
func Wrap(mgr *netpoll.Manager, conn net.Conn) (*Conn, error) {
	sc, ok := conn.(syscallConner)
	if !ok {
		return nil, errors.New("hook: connection does not support SyscallConn")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var fd int
	var ctrlErr error
	if err := rc.Control(func(p uintptr) {
		fd = int(p)
		ctrlErr = unix.SetNonblock(fd, true)
	}); err != nil {
		return nil, err
	}
	if ctrlErr != nil {
		return nil, ctrlErr
	}

	return &Conn{raw: conn, mgr: mgr, fd: fd}, nil
}

// syscallRawConn mirrors syscall.RawConn, declared locally so this file
// doesn't need to import the syscall package just for an interface
// shape.
type syscallRawConn interface {
	Control(f func(fd uintptr)) error
	Read(f func(fd uintptr) (done bool)) error
	Write(f func(fd uintptr) (done bool)) error
}

// SetDeadlines configures the per-call timeouts applied to subsequent
// Read/Write calls (0 disables the corresponding timeout).
func (c *Conn) SetDeadlines(read, write time.Duration) {
	c.readTO, c.writeTO = read, write
}

// Read implements io.Reader using the do-io template: attempt a
// nonblocking read; on EAGAIN, suspend the fiber on readability (with
// the configured read timeout) and retry.
func (c *Conn) Read(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case n > 0:
			return n, nil
		case n == 0 && err == nil:
			return 0, io.EOF
		case errors.Is(err, unix.EAGAIN):
			if _, werr := c.mgr.WaitReady(c.fd, netpoll.EventRead, c.readTO.Milliseconds()); werr != nil {
				return 0, werr
			}
			continue
		default:
			return 0, err
		}
	}
}

// Write implements io.Writer using the do-io template, looping until
// every byte of p is written or an error/timeout occurs.
func (c *Conn) Write(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) {
		n, err := unix.Write(c.fd, p[total:])
		if n > 0 {
			total += n
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			if _, werr := c.mgr.WaitReady(c.fd, netpoll.EventWrite, c.writeTO.Milliseconds()); werr != nil {
				return total, werr
			}
			continue
		}
		return total, err
	}
	return total, nil
}

// Close forgets the descriptor with the I/O manager and closes the
// underlying connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.mgr.Forget(c.fd)
	return c.raw.Close()
}

// LocalAddr and RemoteAddr delegate to the wrapped net.Conn.
func (c *Conn) LocalAddr() net.Addr  { return c.raw.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }
func (c *Conn) Fd() int              { return c.fd }

// DialTimeout performs a fiber-suspending connect: it starts a
// nonblocking connect() and suspends the calling fiber on writability
// (the POSIX signal that a nonblocking connect has resolved), then
// checks SO_ERROR, matching the design's connect-timeout path.
func DialTimeout(ctx context.Context, mgr *netpoll.Manager, network, addr string, timeout time.Duration) (*Conn, error) {
	raddr, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := raddr.IP.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: raddr.Port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		domain = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: raddr.Port}
		copy(s.Addr[:], raddr.IP.To16())
		sa = s
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	err = unix.Connect(fd, sa)
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, err
	}
	if err != nil {
		timeoutMs := timeout.Milliseconds()
		if _, werr := mgr.WaitReady(fd, netpoll.EventWrite, timeoutMs); werr != nil {
			mgr.Forget(fd)
			unix.Close(fd)
			return nil, werr
		}
		soErr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			mgr.Forget(fd)
			unix.Close(fd)
			return nil, gerr
		}
		if soErr != 0 {
			mgr.Forget(fd)
			unix.Close(fd)
			return nil, unix.Errno(soErr)
		}
	}

	file, err := connFromFd(fd)
	if err != nil {
		mgr.Forget(fd)
		unix.Close(fd)
		return nil, err
	}
	return Wrap(mgr, file)
}

// AdoptFd wraps an already-connected raw socket fd (typically fresh from
// accept4) as a fiber-suspending Conn. It goes through Wrap, so the
// descriptor the Conn uses is set to nonblocking mode like any other.
func AdoptFd(mgr *netpoll.Manager, fd int, network string) (*Conn, error) {
	conn, err := connFromFd(fd)
	if err != nil {
		return nil, err
	}
	return Wrap(mgr, conn)
}

// connFromFd builds a net.Conn from a raw, already-connected socket fd.
// os.NewFile wraps fd without duplicating it; net.FileConn then takes
// its own dup, so the deferred f.Close() here only ever closes the
// original fd, leaving the returned conn's copy untouched — the
// standard pattern documented on net.FileConn.
func connFromFd(fd int) (net.Conn, error) {
	f := os.NewFile(uintptr(fd), "conn")
	defer f.Close()
	return net.FileConn(f)
}
