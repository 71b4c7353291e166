package umqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedScheme is returned for an address scheme without a dialer.
var ErrUnsupportedScheme = errors.New("unsupported address scheme")

var (
	noDeadline time.Time

	// aLongTimeAgo is a deadline in the past; setting it unblocks pending reads.
	aLongTimeAgo = time.Unix(1, 0)
)

// Conn is the byte-stream transport a Client drives.
// Non-blocking polls rely on SetReadDeadline; a timeout before any byte is
// read counts as "no packet".
type Conn interface {
	net.Conn
}

// Dialer establishes broker connections.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (Conn, error)

// Dial calls f(ctx, address).
func (f DialerFunc) Dial(ctx context.Context, address string) (Conn, error) {
	return f(ctx, address)
}

// Default broker ports per scheme.
var defaultPorts = map[string]string{
	"tcp":   "1883",
	"mqtt":  "1883",
	"tls":   "8883",
	"ssl":   "8883",
	"mqtts": "8883",
	"ws":    "80",
	"wss":   "443",
	"quic":  "8883",
}

// Endpoint is a parsed broker address.
type Endpoint struct {
	// Scheme is the lower-case transport scheme, "tcp" when none was given.
	Scheme string

	// Host is host:port for network schemes, with the scheme default port
	// filled in.
	Host string

	// Path is the socket path for unix and the request path for ws/wss.
	Path string
}

// Secure reports whether the endpoint uses TLS.
func (e *Endpoint) Secure() bool {
	switch e.Scheme {
	case "tls", "ssl", "mqtts", "wss", "quic":
		return true
	}
	return false
}

// String formats the endpoint back to URL form.
func (e *Endpoint) String() string {
	if e.Scheme == "unix" {
		return "unix://" + e.Path
	}
	return e.Scheme + "://" + e.Host + e.Path
}

// ParseAddress parses a broker address. Accepted forms are "host",
// "host:port" and "scheme://host[:port][/path]" with schemes tcp, mqtt,
// tls, ssl, mqtts, ws, wss, quic and unix.
func ParseAddress(address string) (*Endpoint, error) {
	if address == "" {
		return nil, errors.New("empty broker address")
	}

	if !strings.Contains(address, "://") {
		address = "tcp://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid broker address: %w", err)
	}

	ep := &Endpoint{Scheme: strings.ToLower(u.Scheme)}

	if ep.Scheme == "unix" {
		// unix:///path/to/socket or unix://relative/path
		ep.Path = u.Host + u.Path
		if ep.Path == "" {
			return nil, errors.New("unix address requires a socket path")
		}
		return ep, nil
	}

	port, ok := defaultPorts[ep.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("broker address %q has no host", address)
	}
	if u.Port() != "" {
		port = u.Port()
	}

	ep.Host = net.JoinHostPort(u.Hostname(), port)
	if ep.Scheme == "ws" || ep.Scheme == "wss" {
		ep.Path = u.EscapedPath()
		if u.RawQuery != "" {
			ep.Path += "?" + u.RawQuery
		}
	}

	return ep, nil
}

// TCPDialer connects to brokers over plain TCP, optionally through a proxy.
type TCPDialer struct {
	// Proxy routes the connection through an HTTP CONNECT or SOCKS5 proxy.
	Proxy *ProxyDialer
}

// Dial connects to the host:port address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	if d.Proxy != nil {
		return d.Proxy.DialContext(ctx, "tcp", address)
	}

	var dialer net.Dialer
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS, optionally through a proxy.
type TLSDialer struct {
	// Config is the TLS configuration. Nil selects TLS 1.2+ with system roots.
	Config *tls.Config

	// Proxy routes the TCP leg through an HTTP CONNECT or SOCKS5 proxy.
	Proxy *ProxyDialer
}

// Dial connects to the host:port address and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	config := d.Config
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if d.Proxy == nil {
		dialer := &tls.Dialer{Config: config}
		return dialer.DialContext(ctx, "tcp", address)
	}

	raw, err := d.Proxy.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}

	if config.ServerName == "" {
		host, _, _ := net.SplitHostPort(address)
		config = config.Clone()
		config.ServerName = host
	}

	conn := tls.Client(raw, config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}
	return conn, nil
}

// newDialer picks the dialer for an endpoint and returns the address to
// hand it.
func newDialer(ep *Endpoint, opts *clientOptions) (Dialer, string, error) {
	proxy, err := opts.resolveProxy(ep)
	if err != nil {
		return nil, "", fmt.Errorf("proxy configuration error: %w", err)
	}

	switch ep.Scheme {
	case "tcp", "mqtt":
		return &TCPDialer{Proxy: proxy}, ep.Host, nil
	case "tls", "ssl", "mqtts":
		return &TLSDialer{Config: opts.tlsConfig, Proxy: proxy}, ep.Host, nil
	case "ws", "wss":
		d := NewWSDialer()
		if opts.tlsConfig != nil {
			d.Dialer.TLSClientConfig = opts.tlsConfig
		}
		if proxy != nil {
			d.Dialer.NetDialContext = proxy.DialContext
		}
		return d, ep.String(), nil
	case "unix":
		return NewUnixDialer(), ep.Path, nil
	case "quic":
		// Proxies carry TCP only.
		return NewQUICDialer(opts.tlsConfig), ep.Host, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, ep.Scheme)
	}
}
