package hook

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wyzrun/fiberd/fiber"
	"github.com/wyzrun/fiberd/netpoll"
	"github.com/wyzrun/fiberd/sched"
)

func newTestManager(t *testing.T) *netpoll.Manager {
	t.Helper()
	m, err := netpoll.New(2, false, "hook-test")
	require.NoError(t, err)
	m.Start()
	t.Cleanup(m.Stop)
	return m
}

func TestWrapReadWritesRoundTrip(t *testing.T) {
	m := newTestManager(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 5)
		_, _ = io_ReadFull(c, buf)
		_, _ = c.Write([]byte("world"))
	}()

	done := make(chan error, 1)
	f := fiber.New("client", func(self *fiber.Fiber) {
		raw, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			done <- err
			return
		}
		c, err := Wrap(m, raw)
		if err != nil {
			done <- err
			return
		}
		defer c.Close()

		if _, err := c.Write([]byte("hello")); err != nil {
			done <- err
			return
		}
		buf := make([]byte, 5)
		total := 0
		for total < 5 {
			n, err := c.Read(buf[total:])
			if err != nil {
				done <- err
				return
			}
			total += n
		}
		if string(buf) != "world" {
			done <- errNotWorld
			return
		}
		done <- nil
	}, 0, false)
	m.Submit(sched.Task{Fiber: f, Affinity: sched.AnyThread})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("round trip never completed")
	}
	<-serverDone
}

func TestReadTimeoutReturnsErrTimeoutFromManager(t *testing.T) {
	m := newTestManager(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			defer c.Close()
			time.Sleep(time.Second)
		}
	}()

	done := make(chan error, 1)
	f := fiber.New("client", func(self *fiber.Fiber) {
		raw, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			done <- err
			return
		}
		c, err := Wrap(m, raw)
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		c.SetDeadlines(30*time.Millisecond, 0)

		buf := make([]byte, 5)
		_, err = c.Read(buf)
		done <- err
	}, 0, false)
	m.Submit(sched.Task{Fiber: f, Affinity: sched.AnyThread})

	select {
	case err := <-done:
		require.ErrorIs(t, err, netpoll.ErrTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("read never timed out")
	}
}

func TestDialTimeoutConnectsSuccessfully(t *testing.T) {
	m := newTestManager(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	done := make(chan error, 1)
	f := fiber.New("dialer", func(self *fiber.Fiber) {
		c, err := DialTimeout(nil, m, "tcp", ln.Addr().String(), time.Second)
		if err == nil {
			c.Close()
		}
		done <- err
	}, 0, false)
	m.Submit(sched.Task{Fiber: f, Affinity: sched.AnyThread})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("dial never completed")
	}
}

var errNotWorld = &testErr{"unexpected payload"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

func io_ReadFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
