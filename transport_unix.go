package umqtt

import (
	"context"
	"net"
)

// UnixDialer connects to brokers over Unix domain sockets.
type UnixDialer struct{}

// NewUnixDialer creates a new Unix socket dialer.
func NewUnixDialer() *UnixDialer {
	return &UnixDialer{}
}

// Dial connects to the socket file at path, e.g. "/var/run/mosquitto.sock".
func (d *UnixDialer) Dial(ctx context.Context, path string) (Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", path)
}
