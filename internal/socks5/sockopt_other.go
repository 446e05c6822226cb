//go:build !linux

package socks5

import "syscall"

// setSocketOptions is a no-op on non-Linux platforms; see
// sockopt_linux.go for the TCP_NODELAY/keepalive tuning applied there.
func setSocketOptions(network, address string, c syscall.RawConn) error {
	return nil
}
