package tcpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wyzrun/fiberd/fiber"
	"github.com/wyzrun/fiberd/hook"
	"github.com/wyzrun/fiberd/netpoll"
)

func newTestManager(t *testing.T) *netpoll.Manager {
	t.Helper()
	mgr, err := netpoll.New(2, false, "tcpserver-test")
	require.NoError(t, err)
	mgr.Start()
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestServerEchoesOneLineAndClosesCleanly(t *testing.T) {
	mgr := newTestManager(t)
	srv := New(mgr, "echo-test")

	received := make(chan string, 1)
	srv.HandleClient = func(conn *hook.Conn) {
		defer conn.Close()
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		received <- string(buf[:n])
		conn.Write(buf[:n])
	}

	require.NoError(t, srv.Bind("127.0.0.1:0"))
	srv.Start()
	defer srv.Stop()

	addr := srv.listeners[0].Addr().String()

	echoed := make(chan string, 1)
	var dialErr error
	done := make(chan struct{})
	mgr.Spawn("client", func(self *fiber.Fiber) {
		defer close(done)
		conn, err := hook.DialTimeout(nil, mgr, "tcp", addr, 2*time.Second)
		if err != nil {
			dialErr = err
			return
		}
		defer conn.Close()
		conn.Write([]byte("hello"))
		buf := make([]byte, 64)
		n, err := conn.Read(buf)
		if err == nil {
			echoed <- string(buf[:n])
		}
	})

	<-done
	require.NoError(t, dialErr)

	select {
	case msg := <-received:
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
	select {
	case msg := <-echoed:
		require.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the echo")
	}
}
