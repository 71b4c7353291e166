package umqtt

import (
	"context"
	"crypto/tls"
	"time"
)

// BackoffStrategy computes the delay before reconnect attempt n (1-based)
// from the configured step. The default is LinearBackoff.
type BackoffStrategy func(attempt int, step time.Duration) time.Duration

// LinearBackoff waits step*attempt, so every retry waits longer than the last.
func LinearBackoff(attempt int, step time.Duration) time.Duration {
	return step * time.Duration(attempt)
}

// ExponentialBackoff doubles the delay on every attempt.
func ExponentialBackoff(attempt int, step time.Duration) time.Duration {
	return step << min(attempt-1, 30)
}

// clientOptions holds configuration for a Client.
type clientOptions struct {
	clientID     string
	username     string
	password     []byte
	keepAlive    uint16
	cleanSession bool

	tlsConfig *tls.Config
	dialer    Dialer

	// Proxy
	proxyConfig  *ProxyConfig
	proxyFromEnv bool

	// Timeouts. Zero waits forever.
	connectTimeout time.Duration
	ackTimeout     time.Duration

	// Non-blocking poll
	pollAttempts int
	pollWindow   time.Duration

	// Reconnect supervisor
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	maxReconnects     int
	backoffStrategy   BackoffStrategy
	sleep             func(ctx context.Context, d time.Duration) error

	// Hooks
	onEvent        EventHandler
	onStatusChange StatusHandler

	logger  Logger
	metrics Metrics
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		keepAlive:       60,
		cleanSession:    true,
		pollAttempts:    2,
		pollWindow:      10 * time.Millisecond,
		reconnectDelay:  time.Second,
		backoffStrategy: LinearBackoff,
		sleep:           sleepContext,
		logger:          NewNoOpLogger(),
		metrics:         &NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID sets the client identifier. An empty identifier makes the
// client generate a random one.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password sent in CONNECT.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithUsername sets a username without a password.
func WithUsername(username string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = nil
	}
}

// WithKeepAlive sets the keep-alive interval in seconds advertised in CONNECT.
// The client never pings on its own; call KeepAlive from the poll loop.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession sets the clean-session flag of the first handshake.
// Reconnects always resume the session.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanSession = clean
	}
}

// WithTLS sets the TLS configuration for tls, ssl, mqtts, wss and quic addresses.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithDialer replaces scheme-based dialing. The dialer receives the address
// passed to Begin unchanged.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithProxy routes TCP-based transports through an HTTP CONNECT or SOCKS5 proxy.
func WithProxy(config ProxyConfig) Option {
	return func(o *clientOptions) {
		o.proxyConfig = &config
	}
}

// WithProxyFromEnv uses HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithProxyFromEnv() Option {
	return func(o *clientOptions) {
		o.proxyFromEnv = true
	}
}

// WithConnectTimeout bounds dialing plus the CONNACK wait. Zero, the
// default, waits forever.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithAckTimeout bounds the PUBACK and SUBACK waits. Zero (the default)
// waits forever.
func WithAckTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.ackTimeout = d
	}
}

// WithPollAttempts sets how many reads PollNonBlocking makes before
// reporting no packet.
func WithPollAttempts(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.pollAttempts = n
		}
	}
}

// WithPollWindow sets how long each PollNonBlocking read waits for the
// first byte of a packet.
func WithPollWindow(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.pollWindow = d
		}
	}
}

// WithReconnectDelay sets the backoff step of the reconnect supervisor.
func WithReconnectDelay(step time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectDelay = step
	}
}

// WithMaxReconnectDelay caps the delay between reconnect attempts. Zero means no cap.
func WithMaxReconnectDelay(d time.Duration) Option {
	return func(o *clientOptions) {
		o.maxReconnectDelay = d
	}
}

// WithMaxReconnects limits consecutive reconnect attempts. Zero (the
// default) retries forever.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithBackoffStrategy replaces LinearBackoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) {
		if strategy != nil {
			o.backoffStrategy = strategy
		}
	}
}

// OnEvent sets the handler for lifecycle events (ConnectedEvent,
// ConnectionLostError, ReconnectEvent).
func OnEvent(handler EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = handler
	}
}

// OnStatusChange sets the handler called on every status transition.
func OnStatusChange(handler StatusHandler) Option {
	return func(o *clientOptions) {
		o.onStatusChange = handler
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics backend.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// withSleep replaces the reconnect sleep. Used by tests.
func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *clientOptions) {
		o.sleep = fn
	}
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// reconnectDelayFor returns the capped delay before attempt.
func (o *clientOptions) reconnectDelayFor(attempt int) time.Duration {
	d := o.backoffStrategy(attempt, o.reconnectDelay)
	if o.maxReconnectDelay > 0 && d > o.maxReconnectDelay {
		d = o.maxReconnectDelay
	}
	return d
}

// resolveProxy returns the proxy dialer for an endpoint, or nil.
func (o *clientOptions) resolveProxy(ep *Endpoint) (*ProxyDialer, error) {
	if ep.Scheme == "unix" || ep.Scheme == "quic" {
		return nil, nil
	}

	if o.proxyConfig != nil {
		return NewProxyDialer(o.proxyConfig.URL, o.proxyConfig.Username, o.proxyConfig.Password)
	}

	if o.proxyFromEnv {
		u, err := ProxyFromEnvironment(ep)
		if err != nil || u == nil {
			return nil, err
		}
		return NewProxyDialer(u.String(), "", "")
	}

	return nil, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
