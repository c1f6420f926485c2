// Package tcpserver provides a minimal TCP server shell that binds one
// or more addresses and spawns one fiber per accepted connection,
// grounded on original_source/src/tcpserver.{h,cpp}'s TCPServer: a
// start() that kicks off one accept-loop fiber per listening socket,
// and a handleClient hook callers override (there as a virtual method,
// here as an assignable function field — the same pattern package sched
// uses for Tickle/Idle/Stopping).
package tcpserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/wyzrun/fiberd/fiber"
	"github.com/wyzrun/fiberd/hook"
	"github.com/wyzrun/fiberd/internal/rtlog"
	"github.com/wyzrun/fiberd/netpoll"
	"github.com/wyzrun/fiberd/sockutil"
)

// Server is a TCP server built on top of one netpoll.Manager. HandleClient
// is invoked, on its own fiber, once per accepted connection; the
// default implementation closes the connection immediately, matching
// TCPServer::handleClient's placeholder log-only behavior.
type Server struct {
	Mgr  *netpoll.Manager
	Name string

	// RecvTimeout bounds each HandleClient fiber's Read calls, mirroring
	// TCPServer's m_recvTimeout (config.tcp_server.read_timeout there).
	RecvTimeout time.Duration

	// HandleClient is the per-connection callback; assign before Start.
	HandleClient func(conn *hook.Conn)

	log *rtlog.Logger

	mu        sync.Mutex
	listeners []*sockutil.Listener
	stopped   bool
}

// New constructs a Server bound to mgr. name is used only for logging.
func New(mgr *netpoll.Manager, name string) *Server {
	s := &Server{
		Mgr:         mgr,
		Name:        name,
		RecvTimeout: 2 * time.Minute,
		log:         rtlog.New("tcpserver").Named(name),
	}
	s.HandleClient = s.defaultHandleClient
	return s
}

func (s *Server) defaultHandleClient(conn *hook.Conn) {
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Log("accepted connection with no handler installed")
	conn.Close()
}

// Bind listens on addr (any form netaddr.ParseHost accepts), adding it
// to the set of addresses Start will begin accepting on.
func (s *Server) Bind(addr string) error {
	ln, err := sockutil.Listen(s.Mgr, addr)
	if err != nil {
		return fmt.Errorf("tcpserver: bind %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Log("bound listener")
	return nil
}

// Addrs returns the bound address of every listener added via Bind.
func (s *Server) Addrs() []net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]net.Addr, len(s.listeners))
	for i, ln := range s.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs
}

// Start spawns one accept-loop fiber per bound listener.
func (s *Server) Start() {
	s.mu.Lock()
	s.stopped = false
	listeners := append([]*sockutil.Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, ln := range listeners {
		ln := ln
		s.Mgr.Spawn("accept:"+ln.Addr().String(), func(self *fiber.Fiber) {
			s.acceptLoop(ln)
		})
	}
}

func (s *Server) acceptLoop(ln *sockutil.Listener) {
	for {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.isStopped() {
				return
			}
			s.log.Error().Err(err).Log("accept failed")
			continue
		}
		conn.SetDeadlines(s.RecvTimeout, 0)
		handler := s.HandleClient
		s.Mgr.Spawn("client:"+conn.RemoteAddr().String(), func(self *fiber.Fiber) {
			handler(conn)
		})
	}
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Stop marks the server stopped and closes every bound listener,
// unblocking their accept-loop fibers.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
}
