package socks5

import (
	"context"
	"net"
	"time"
)

// tunedDialer dials outbound TCP connections, optionally pinned to a
// local IP for egress binding, with TCP_NODELAY/keepalive socket tuning
// applied via Control.
type tunedDialer struct {
	bindIP    net.IP
	keepAlive time.Duration
}

// newTunedDialer returns a Dialer bound to bindIP (nil for the
// system-chosen source address).
func newTunedDialer(bindIP net.IP) *tunedDialer {
	return &tunedDialer{bindIP: bindIP, keepAlive: 30 * time.Second}
}

func (d *tunedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{
		KeepAlive: d.keepAlive,
		Control:   setSocketOptions,
	}
	if d.bindIP != nil {
		dialer.LocalAddr = &net.TCPAddr{IP: d.bindIP}
	}
	return dialer.DialContext(ctx, network, address)
}
