package httpserver

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wyzrun/fiberd/config"
	"github.com/wyzrun/fiberd/netpoll"
)

func newTestManager(t *testing.T) *netpoll.Manager {
	t.Helper()
	mgr, err := netpoll.New(2, false, "httpserver-test")
	require.NoError(t, err)
	mgr.Start()
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestServerRespondsToPlainTCPClient(t *testing.T) {
	mgr := newTestManager(t)
	srv := New(mgr, "test", config.Default().HTTP)
	srv.Handler = func(req *Request) *Response {
		resp := NewResponse()
		resp.Body = []byte("name=" + req.GetParam("name", "world"))
		return resp
	}
	require.NoError(t, srv.Bind("127.0.0.1:0"))
	srv.Start()
	defer srv.Stop()

	addr := srv.Server.Addrs()[0].String()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /?name=fiberd HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(conn)
	statusLine, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, statusLine, "200")
}
