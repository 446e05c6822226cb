//go:build linux

package socks5

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setSocketOptions tunes the outbound socket before connect(2): low
// latency (TCP_NODELAY) and a keepalive so a half-dead endpoint doesn't
// pin a relay goroutine open forever.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	var sysErr error
	err := c.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 30); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
			sysErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
			sysErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return sysErr
}
