package umqtt

import (
	"errors"
	"fmt"
	"time"
)

// EventHandler receives client lifecycle events. Events are errors so they
// can be matched with errors.Is and unpacked with errors.As.
type EventHandler func(client *Client, event error)

// Sentinel events for client lifecycle.
var (
	// ErrConnected is emitted when a handshake completes with return code 0.
	ErrConnected = errors.New("connected")

	// ErrConnectionLost is emitted when the transport fails.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted before every reconnect attempt.
	ErrReconnecting = errors.New("reconnecting")

	// ErrReconnectFailed is returned when the reconnect budget is exhausted
	// or a reconnect was cancelled.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// Error taxonomy. Check with errors.Is.
var (
	// ErrProtocolViolation marks malformed or unexpected packets from the broker.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrConnectRejected marks a CONNACK with a non-zero return code.
	ErrConnectRejected = errors.New("connection rejected")

	// ErrAuthFailed additionally marks rejections for bad credentials or authorization.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrUnsupportedFeature is returned for QoS 2 in either direction.
	ErrUnsupportedFeature = errors.New("unsupported feature")

	// ErrTransport marks socket-level failures.
	ErrTransport = errors.New("transport error")

	// ErrConfiguration marks requests rejected before any packet is sent.
	ErrConfiguration = errors.New("configuration error")
)

// Operation errors.
var (
	ErrNoMessageListener = errors.New("no message listener set")
	ErrRequestInFlight   = errors.New("another acknowledged request is in flight")
	ErrAckTimeout        = errors.New("acknowledgment timeout")
	ErrPublishDropped    = errors.New("publish dropped after reconnect")
	ErrSubscribeDropped  = errors.New("subscribe dropped after reconnect")
	ErrSubscribeFailed   = errors.New("subscribe failed")
	ErrClientClosed      = errors.New("client closed")
	ErrNotConnected      = errors.New("not connected")
)

// ProtocolError describes a packet the client could not accept.
// Extract with errors.As.
type ProtocolError struct {
	err    error
	Packet PacketType
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrProtocolViolation, e.Packet, e.Detail)
}

func (e *ProtocolError) Unwrap() []error {
	if e.err == nil {
		return []error{ErrProtocolViolation}
	}
	return []error{ErrProtocolViolation, e.err}
}

// NewProtocolError creates a new ProtocolError. cause may be nil.
func NewProtocolError(packet PacketType, detail string, cause error) *ProtocolError {
	return &ProtocolError{
		err:    cause,
		Packet: packet,
		Detail: detail,
	}
}

// ConnectError contains the return code of a rejected handshake.
// Extract with errors.As.
type ConnectError struct {
	err        error
	ReturnCode ReturnCode
}

func (e *ConnectError) Error() string {
	return "connect rejected: " + e.ReturnCode.String()
}

func (e *ConnectError) Unwrap() []error {
	if e.err == nil {
		return []error{ErrConnectRejected}
	}
	return []error{ErrConnectRejected, e.err}
}

// Status returns the client status the rejection leads to.
func (e *ConnectError) Status() Status {
	return e.ReturnCode.Status()
}

// NewConnectError creates a new ConnectError from a return code.
func NewConnectError(code ReturnCode) *ConnectError {
	var cause error
	if code == ReturnBadUsernameOrPassword || code == ReturnNotAuthorized {
		cause = ErrAuthFailed
	}
	return &ConnectError{
		err:        cause,
		ReturnCode: code,
	}
}

// TransportError wraps a socket failure with the operation that hit it.
// Extract with errors.As.
type TransportError struct {
	err error
	Op  string
}

func (e *TransportError) Error() string {
	return "transport " + e.Op + ": " + e.err.Error()
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.err}
}

// NewTransportError creates a new TransportError.
func NewTransportError(op string, cause error) *TransportError {
	return &TransportError{
		err: cause,
		Op:  op,
	}
}

// ConfigurationError reports a request rejected before any I/O.
// Extract with errors.As.
type ConfigurationError struct {
	err   error
	Field string
}

func (e *ConfigurationError) Error() string {
	return "invalid " + e.Field + ": " + e.err.Error()
}

func (e *ConfigurationError) Unwrap() []error {
	return []error{ErrConfiguration, e.err}
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field string, cause error) *ConfigurationError {
	return &ConfigurationError{
		err:   cause,
		Field: field,
	}
}

// SubscribeError reports a SUBACK failure return code.
// Extract with errors.As.
type SubscribeError struct {
	err        error
	Topic      string
	ReturnCode byte
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %q failed: return code 0x%02X", e.Topic, e.ReturnCode)
}

func (e *SubscribeError) Unwrap() error { return e.err }

// NewSubscribeError creates a new SubscribeError.
func NewSubscribeError(topic string, code byte) *SubscribeError {
	return &SubscribeError{
		err:        ErrSubscribeFailed,
		Topic:      topic,
		ReturnCode: code,
	}
}

// ConnectedEvent is emitted after every successful handshake.
// Extract with errors.As.
type ConnectedEvent struct {
	err            error
	SessionPresent bool
	Reconnect      bool
}

func (e *ConnectedEvent) Error() string { return e.err.Error() }
func (e *ConnectedEvent) Unwrap() error { return e.err }

// NewConnectedEvent creates a new ConnectedEvent.
func NewConnectedEvent(sessionPresent, reconnect bool) *ConnectedEvent {
	return &ConnectedEvent{
		err:            ErrConnected,
		SessionPresent: sessionPresent,
		Reconnect:      reconnect,
	}
}

// ConnectionLostError is emitted when the transport fails.
// Extract with errors.As.
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() error { return e.err }

// NewConnectionLostError creates a new ConnectionLostError.
func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}

// ReconnectEvent is emitted before each reconnect attempt.
// Extract with errors.As.
type ReconnectEvent struct {
	err         error
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	cancelFn    func()
}

func (e *ReconnectEvent) Error() string { return e.err.Error() }
func (e *ReconnectEvent) Unwrap() error { return e.err }

// Cancel stops the supervisor after the current event. The pending call
// returns ErrReconnectFailed.
func (e *ReconnectEvent) Cancel() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
}

// NewReconnectEvent creates a new ReconnectEvent.
func NewReconnectEvent(attempt, maxAttempts int, delay time.Duration, cancelFn func()) *ReconnectEvent {
	return &ReconnectEvent{
		err:         ErrReconnecting,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Delay:       delay,
		cancelFn:    cancelFn,
	}
}

// isTransportError reports whether err should be handed to the reconnect supervisor.
func isTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}
