//go:build darwin

package sockutil

import (
	"time"

	"golang.org/x/sys/unix"
)

func setKeepAliveIdle(fd int, idle time.Duration) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPALIVE, int(idle.Seconds()))
}
