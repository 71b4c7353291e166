package umqtt

import "fmt"

// ReturnCode is the CONNACK connect return code.
// MQTT 3.1.1: Section 3.2.2.3
type ReturnCode byte

// Connect return codes.
const (
	ReturnAccepted                    ReturnCode = 0x00
	ReturnUnacceptableProtocolVersion ReturnCode = 0x01
	ReturnIdentifierRejected          ReturnCode = 0x02
	ReturnServerUnavailable           ReturnCode = 0x03
	ReturnBadUsernameOrPassword       ReturnCode = 0x04
	ReturnNotAuthorized               ReturnCode = 0x05
)

// SubackFailure is the SUBACK return code signalling a rejected subscription.
const SubackFailure byte = 0x80

// String returns a human-readable description of the return code.
func (c ReturnCode) String() string {
	switch c {
	case ReturnAccepted:
		return "connection accepted"
	case ReturnUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ReturnIdentifierRejected:
		return "identifier rejected"
	case ReturnServerUnavailable:
		return "server unavailable"
	case ReturnBadUsernameOrPassword:
		return "bad user name or password"
	case ReturnNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("unknown return code 0x%02X", byte(c))
	}
}

// Status maps the return code to the connection status it leaves the client in.
func (c ReturnCode) Status() Status {
	switch c {
	case ReturnAccepted:
		return StatusConnected
	case ReturnUnacceptableProtocolVersion:
		return StatusBadProtocol
	case ReturnIdentifierRejected:
		return StatusBadClientID
	case ReturnServerUnavailable:
		return StatusUnavailable
	case ReturnBadUsernameOrPassword:
		return StatusBadCredentials
	case ReturnNotAuthorized:
		return StatusUnauthorized
	default:
		return StatusConnectionFailed
	}
}
