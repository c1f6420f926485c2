// Package sockutil provides a fiber-suspending listening socket and a
// handful of socket-option helpers, the Go counterpart to
// original_source/src/socket.{h,cpp}'s Socket class — minus the parts
// covered instead by hook.Conn (reads/writes) and netaddr (address
// parsing/CIDR math).
//
// Listener.Accept applies the same do-io template as package hook:
// attempt a nonblocking accept4, and on EAGAIN suspend the calling fiber
// on readability via the shared *netpoll.Manager, grounded on
// TCPServer::startAccept's accept-loop shape (accept, and on failure
// just try again) generalized from a busy retry loop into a
// readiness-driven one.
package sockutil

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wyzrun/fiberd/hook"
	"github.com/wyzrun/fiberd/netaddr"
	"github.com/wyzrun/fiberd/netpoll"
)

// ErrClosed is returned by operations on a closed Listener.
var ErrClosed = errors.New("sockutil: listener closed")

// Listener is a fiber-aware TCP listening socket.
type Listener struct {
	mgr    *netpoll.Manager
	fd     int
	addr   net.Addr
	closed bool
}

// Listen resolves addr (accepting "[ipv6]:port", "host:port", or a bare
// port prefixed with ":") and binds+listens a nonblocking TCP socket on
// it, matching Socket::CreateTCP + bind + listen.
func Listen(mgr *netpoll.Manager, addr string) (*Listener, error) {
	node, service, err := netaddr.ParseHost(addr)
	if err != nil {
		return nil, err
	}
	if node == "" {
		node = "0.0.0.0"
	}
	ip := net.ParseIP(node)
	if ip == nil {
		ips, err := net.LookupIP(node)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("sockutil: no addresses for %q", node)
		}
		ip = ips[0]
	}

	var port int
	if _, err := fmt.Sscanf(service, "%d", &port); err != nil && service != "" {
		return nil, fmt.Errorf("sockutil: bad port %q", service)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := ip.To4(); ip4 != nil {
		s := &unix.SockaddrInet4{Port: port}
		copy(s.Addr[:], ip4)
		sa = s
	} else {
		domain = unix.AF_INET6
		s := &unix.SockaddrInet6{Port: port}
		copy(s.Addr[:], ip.To16())
		sa = s
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}

	sn, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	tcpAddr := sockaddrToTCPAddr(sn)

	return &Listener{mgr: mgr, fd: fd, addr: tcpAddr}, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, s.Addr[:])
		return &net.TCPAddr{IP: ip, Port: s.Port}
	default:
		return nil
	}
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.addr }

// Fd returns the raw listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// Accept suspends the calling fiber, with no timeout, until a connection
// arrives or an error occurs, returning it wrapped as a *hook.Conn bound
// to the same Manager.
func (l *Listener) Accept() (*hook.Conn, error) {
	if l.closed {
		return nil, ErrClosed
	}
	for {
		nfd, _, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK)
		switch {
		case err == nil:
			conn, cerr := hook.AdoptFd(l.mgr, nfd, "tcp")
			if cerr != nil {
				unix.Close(nfd)
				return nil, cerr
			}
			return conn, nil
		case errors.Is(err, unix.EAGAIN):
			if _, werr := l.mgr.WaitReady(l.fd, netpoll.EventRead, 0); werr != nil {
				return nil, werr
			}
		default:
			return nil, err
		}
	}
}

// Close forgets the listening descriptor with the I/O manager and
// closes it.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.mgr.Forget(l.fd)
	return unix.Close(l.fd)
}

// SetRecvBufferSize and SetSendBufferSize mirror Socket::setOption's
// generic SO_RCVBUF/SO_SNDBUF usage.
func SetRecvBufferSize(fd, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}

func SetSendBufferSize(fd, bytes int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
}

// SetKeepAlive mirrors the TCP keep-alive half of Socket's option
// surface, with an idle-time knob since Go's runtime poller (which this
// runtime deliberately bypasses) usually hides that detail.
func SetKeepAlive(fd int, idle time.Duration) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return err
	}
	if idle <= 0 {
		return nil
	}
	return setKeepAliveIdle(fd, idle)
}
