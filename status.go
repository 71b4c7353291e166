package umqtt

// Status is the lifecycle state of a Client.
// Negative values are transport-level states, positive values mirror the
// CONNACK return code that rejected the last handshake.
type Status int

// Client statuses.
const (
	StatusConnecting        Status = -5
	StatusConnectionTimeout Status = -4
	StatusConnectionLost    Status = -3
	StatusConnectionFailed  Status = -2
	StatusDisconnected      Status = -1
	StatusConnected         Status = 0
	StatusBadProtocol       Status = 1
	StatusBadClientID       Status = 2
	StatusUnavailable       Status = 3
	StatusBadCredentials    Status = 4
	StatusUnauthorized      Status = 5
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnectionTimeout:
		return "connection timeout"
	case StatusConnectionLost:
		return "connection lost"
	case StatusConnectionFailed:
		return "connection failed"
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusBadProtocol:
		return "bad protocol"
	case StatusBadClientID:
		return "bad client id"
	case StatusUnavailable:
		return "unavailable"
	case StatusBadCredentials:
		return "bad credentials"
	case StatusUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Rejected reports whether the status is the result of a broker rejecting
// the handshake.
func (s Status) Rejected() bool {
	return s >= StatusBadProtocol && s <= StatusUnauthorized
}

// StatusHandler is notified when the client status observed by Poll changes.
type StatusHandler func(old, current Status)
