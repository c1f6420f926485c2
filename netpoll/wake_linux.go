//go:build linux

package netpoll

import "golang.org/x/sys/unix"

// newWakeFd creates an eventfd used as both the read and write end of
// the idle-poller wake signal, grounded on eventloop's createWakeFd
// (eventloop/wakeup_linux.go).
func newWakeFd() (readFD, writeFD int, err error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

func writeWake(fd int) {
	var buf [8]byte
	buf[7] = 1
	_, _ = unix.Write(fd, buf[:])
}

func drainWake(fd int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return
		}
	}
}

func closeWakeFd(readFD, writeFD int) {
	_ = unix.Close(readFD)
}
