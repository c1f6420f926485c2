// Server glues the Request/Response model to package tcpserver, playing
// the role of HttpServer + HttpSession: accept a connection, parse one
// request, dispatch to Handler, write the response, and either loop
// (keep-alive) or close, matching HttpSession::handleClient's request
// loop.
package httpserver

import (
	"errors"
	"io"

	"github.com/wyzrun/fiberd/config"
	"github.com/wyzrun/fiberd/hook"
	"github.com/wyzrun/fiberd/internal/rtlog"
	"github.com/wyzrun/fiberd/netpoll"
	"github.com/wyzrun/fiberd/tcpserver"
)

// Handler answers an HTTP request.
type Handler func(req *Request) *Response

// Server is a tcpserver.Server specialized to speak HTTP/1.x.
type Server struct {
	*tcpserver.Server

	Handler Handler
	HTTP    config.HTTPConfig

	log *rtlog.Logger
}

// New constructs an HTTP server over mgr. cfg bounds header/body sizes;
// the zero value is usable (config.HTTPConfig{}'s zero fields are
// simply "no explicit override", not "zero capacity" — callers should
// normally pass config.Default().HTTP).
func New(mgr *netpoll.Manager, name string, cfg config.HTTPConfig) *Server {
	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = config.Default().HTTP.MaxHeaderBytes
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = config.Default().HTTP.MaxBodyBytes
	}

	s := &Server{
		Server: tcpserver.New(mgr, name),
		HTTP:   cfg,
		log:    rtlog.New("httpserver").Named(name),
	}
	s.Server.HandleClient = s.handleClient
	return s
}

func (s *Server) handleClient(conn *hook.Conn) {
	defer conn.Close()
	for {
		req, err := ParseRequest(conn, s.HTTP.MaxHeaderBytes, s.HTTP.MaxBodyBytes)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.writeError(conn, err)
			}
			return
		}

		resp := s.dispatch(req)
		resp.Close = resp.Close || req.Close
		if _, err := resp.WriteTo(conn); err != nil {
			return
		}
		if resp.Close {
			return
		}
	}
}

func (s *Server) dispatch(req *Request) (resp *Response) {
	if s.Handler == nil {
		resp = NewResponse()
		resp.Status, resp.Reason = 501, "Not Implemented"
		resp.Body = []byte("no handler installed")
		return resp
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("panic", "handler panicked").Log("recovered from HTTP handler panic")
			resp = NewResponse()
			resp.Status, resp.Reason = 500, "Internal Server Error"
			resp.Close = true
		}
	}()
	resp = s.Handler(req)
	if resp == nil {
		resp = NewResponse()
		resp.Status, resp.Reason = 204, "No Content"
	}
	return resp
}

func (s *Server) writeError(conn *hook.Conn, err error) {
	resp := NewResponse()
	resp.Close = true
	switch {
	case errors.Is(err, ErrHeadersTooLarge):
		resp.Status, resp.Reason = 431, "Request Header Fields Too Large"
	case errors.Is(err, ErrBodyTooLarge):
		resp.Status, resp.Reason = 413, "Payload Too Large"
	case errors.Is(err, ErrMalformed):
		resp.Status, resp.Reason = 400, "Bad Request"
	default:
		return
	}
	resp.WriteTo(conn)
}
