//go:build darwin

package netpoll

import "golang.org/x/sys/unix"

// newWakeFd creates a self-pipe for the idle-poller wake signal,
// grounded on eventloop's createWakeFd (eventloop/wakeup_darwin.go).
func newWakeFd() (readFD, writeFD int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	for _, fd := range fds {
		_ = unix.SetNonblock(fd, true)
	}
	return fds[0], fds[1], nil
}

func writeWake(fd int) {
	var buf [1]byte
	_, _ = unix.Write(fd, buf[:])
}

func drainWake(fd int) {
	var buf [64]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

func closeWakeFd(readFD, writeFD int) {
	_ = unix.Close(readFD)
	if writeFD != readFD {
		_ = unix.Close(writeFD)
	}
}
