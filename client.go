package umqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MessageListener receives every application message the broker delivers.
type MessageListener func(msg *Message)

// Client is a polling MQTT 3.1.1 client driving one transport.
//
// All protocol work happens on the goroutine that calls Begin, Poll,
// PollNonBlocking, Publish, Subscribe, Ping or Disconnect; these must not
// be called concurrently. Status and IsConnected are safe from any goroutine.
type Client struct {
	options *clientOptions
	log     Logger
	metrics clientMetrics

	address string
	conn    Conn
	status  atomic.Int32
	closed  bool

	// fatal holds the last handshake failure that retrying cannot fix.
	fatal error

	nextID    uint16
	inFlight  bool
	keepAlive keepAlive

	listener      MessageListener
	will          *lastWill
	subscriptions []Subscription
}

type lastWill struct {
	topic   string
	payload []byte
	retain  bool
	qos     byte
}

// NewClient creates a client. No I/O happens until Begin.
func NewClient(opts ...Option) *Client {
	options := applyOptions(opts...)
	if options.clientID == "" {
		options.clientID = generateClientID()
	}

	c := &Client{
		options: options,
		log:     options.logger.WithFields(LogFields{LogFieldClientID: options.clientID}),
		metrics: clientMetrics{metrics: options.metrics},
	}
	c.status.Store(int32(StatusDisconnected))
	c.keepAlive.interval = time.Duration(options.keepAlive) * time.Second

	return c
}

// generateClientID returns a random 22 character identifier, within the
// 23 character limit every 3.1.1 broker must accept.
func generateClientID() string {
	return "umqtt-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Begin connects to the broker at address and performs the handshake.
//
// The address is "host[:port]" or "scheme://host[:port]"; see ParseAddress.
// A rejected handshake returns a *ConnectError and is not retried. A
// transport failure is returned as a *TransportError; the next Poll hands
// it to the reconnect supervisor.
func (c *Client) Begin(ctx context.Context, address string) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.address = address
	c.closed = false
	c.fatal = nil

	_, err := c.connect(ctx, c.options.cleanSession, false)
	return err
}

// connect dials and runs the CONNECT/CONNACK exchange.
func (c *Client) connect(ctx context.Context, clean, reconnect bool) (bool, error) {
	c.setStatus(StatusConnecting)

	if c.options.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.connectTimeout)
		defer cancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrConfiguration) {
			c.fatal = err
			c.setStatus(StatusConnectionFailed)
			return false, err
		}
		c.setStatus(failureStatus(ctx, err))
		return false, NewTransportError("dial", ioError(ctx, err))
	}

	connack, err := c.handshake(ctx, conn, clean)
	if err != nil {
		_ = conn.Close()
		return false, err
	}

	c.conn = conn
	c.fatal = nil
	c.keepAlive.reset()
	c.metrics.connected(true)
	c.setStatus(StatusConnected)

	c.log.Info("connected", LogFields{
		LogFieldAddress:   c.address,
		"session_present": connack.SessionPresent,
	})
	c.emit(NewConnectedEvent(connack.SessionPresent, reconnect))

	return connack.SessionPresent, nil
}

// handshake writes CONNECT and reads exactly the four CONNACK bytes.
func (c *Client) handshake(ctx context.Context, conn Conn, clean bool) (*ConnackPacket, error) {
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(aLongTimeAgo) })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)
	if err := encodePacket(buf, c.connectPacket(clean)); err != nil {
		c.fatal = err
		c.setStatus(StatusConnectionFailed)
		return nil, err
	}

	if _, err := conn.Write(buf.Bytes()); err != nil {
		c.setStatus(failureStatus(ctx, err))
		return nil, NewTransportError("write CONNECT", ioError(ctx, err))
	}
	c.metrics.packetSent(PacketCONNECT)

	var raw [connackSize]byte
	if _, err := io.ReadFull(conn, raw[:]); err != nil {
		c.setStatus(failureStatus(ctx, err))
		return nil, NewTransportError("read CONNACK", ioError(ctx, err))
	}
	c.metrics.packetReceived(PacketCONNACK)

	connack, err := parseConnack(raw)
	if err != nil {
		c.fatal = err
		c.setStatus(StatusConnectionFailed)
		c.log.Error("malformed CONNACK", LogFields{LogFieldError: err})
		return nil, err
	}

	if connack.ReturnCode != ReturnAccepted {
		cerr := NewConnectError(connack.ReturnCode)
		c.fatal = cerr
		c.setStatus(cerr.Status())
		c.log.Error("connection rejected", LogFields{LogFieldReturnCode: connack.ReturnCode.String()})
		return nil, cerr
	}

	if !stop() {
		c.setStatus(failureStatus(ctx, ctx.Err()))
		return nil, NewTransportError("connect", ctx.Err())
	}
	_ = conn.SetDeadline(noDeadline)

	return connack, nil
}

func (c *Client) connectPacket(clean bool) *ConnectPacket {
	pkt := &ConnectPacket{
		ClientID:     c.options.clientID,
		CleanSession: clean,
		KeepAlive:    c.options.keepAlive,
		Username:     c.options.username,
		Password:     c.options.password,
	}

	if w := c.will; w != nil {
		pkt.WillFlag = true
		pkt.WillTopic = w.topic
		pkt.WillPayload = w.payload
		pkt.WillRetain = w.retain
		pkt.WillQoS = w.qos
	}

	return pkt
}

func (c *Client) dial(ctx context.Context) (Conn, error) {
	if c.options.dialer != nil {
		return c.options.dialer.Dial(ctx, c.address)
	}

	ep, err := ParseAddress(c.address)
	if err != nil {
		return nil, NewConfigurationError("address", err)
	}

	dialer, target, err := newDialer(ep, c.options)
	if err != nil {
		return nil, NewConfigurationError("address", err)
	}

	c.log.Debug("dialing", LogFields{LogFieldAddress: ep.String()})
	return dialer.Dial(ctx, target)
}

// Disconnect sends DISCONNECT and closes the transport. Later calls other
// than Begin return ErrClientClosed.
func (c *Client) Disconnect() error {
	c.closed = true

	if c.conn == nil {
		c.setStatus(StatusDisconnected)
		return nil
	}

	if err := c.send(context.Background(), &DisconnectPacket{}); err != nil {
		c.log.Debug("DISCONNECT not sent", LogFields{LogFieldError: err})
	}

	err := c.conn.Close()
	c.conn = nil
	c.metrics.connected(false)
	c.setStatus(StatusDisconnected)
	c.log.Info("disconnected", nil)

	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// SetMessageListener sets the single receiver of inbound messages.
// Use extensions/router to fan out by topic filter.
func (c *Client) SetMessageListener(fn MessageListener) {
	c.listener = fn
}

// SetLastWill sets the will message sent with every following CONNECT.
func (c *Client) SetLastWill(topic string, payload []byte, retain bool, qos byte) error {
	if qos > QoS2 {
		return NewConfigurationError("will QoS", ErrInvalidQoS)
	}
	if err := ValidateTopicName(topic); err != nil {
		return NewConfigurationError("will topic", err)
	}
	if len(payload) > maxUint16 {
		return NewConfigurationError("will payload", ErrBinaryTooLong)
	}

	c.will = &lastWill{
		topic:   topic,
		payload: bytes.Clone(payload),
		retain:  retain,
		qos:     qos,
	}
	return nil
}

// IsConnected reports whether the last handshake succeeded and the
// transport has not failed since.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.options.clientID
}

func (c *Client) setStatus(s Status) {
	old := Status(c.status.Swap(int32(s)))
	if old == s {
		return
	}

	c.log.Debug("status changed", LogFields{"previous": old.String(), LogFieldStatus: s.String()})
	if c.options.onStatusChange != nil {
		c.options.onStatusChange(old, s)
	}
}

func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.options.onEvent(c, event)
	}
}

// dropConnection closes the transport and moves to status s.
func (c *Client) dropConnection(s Status) {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.metrics.connected(false)
	}
	c.setStatus(s)
}

// connectionLost records a transport failure.
func (c *Client) connectionLost(cause error) {
	c.log.Warn("connection lost", LogFields{LogFieldError: cause})
	c.dropConnection(StatusDisconnected)
	c.emit(NewConnectionLostError(cause))
}

// failureStatus maps a handshake I/O failure to a status.
func failureStatus(ctx context.Context, err error) Status {
	if errors.Is(ctx.Err(), context.Canceled) {
		return StatusConnectionFailed
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return StatusConnectionTimeout
	}
	return StatusConnectionFailed
}

// ioError reports the context error when ctx is what interrupted the I/O.
func ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && (isTimeout(err) || errors.Is(err, ctxErr)) {
		return ctxErr
	}
	// The conn deadline mirrors ctx's and may fire before ctx's own timer.
	if deadline, ok := ctx.Deadline(); ok && isTimeout(err) && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
