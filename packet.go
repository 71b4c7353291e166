package umqtt

import (
	"errors"
	"io"
)

// QoS levels.
const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)

// Packet validation errors.
var (
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required")
)

// Packet is the interface that all MQTT control packets implement.
// MQTT 3.1.1: Section 2
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Encode writes the packet to the writer.
	// Returns the number of bytes written.
	Encode(w io.Writer) (int, error)

	// Decode reads the packet body from the reader.
	// The fixed header should already be decoded.
	// Returns the number of bytes read.
	Decode(r io.Reader, header FixedHeader) (int, error)

	// Validate validates the packet contents.
	Validate() error
}

// PacketWithID is implemented by packets that carry a packet identifier.
// MQTT 3.1.1: Section 2.3.1
type PacketWithID interface {
	Packet

	// GetPacketID returns the packet identifier.
	GetPacketID() uint16
}

// Message represents an application message received from the broker.
type Message struct {
	// Topic is the topic name the message was published to.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the Quality of Service level the message was delivered with.
	QoS byte

	// Retain indicates if this is a retained message.
	Retain bool

	// DUP indicates a redelivery by the broker.
	DUP bool
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := &Message{
		Topic:  m.Topic,
		QoS:    m.QoS,
		Retain: m.Retain,
		DUP:    m.DUP,
	}

	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}

	return clone
}

// encodeWithHeader writes a fixed header followed by body in one Write call.
func encodeWithHeader(w io.Writer, header FixedHeader, body []byte) (int, error) {
	header.RemainingLength = uint32(min(len(body), MaxRemainingLength+1))

	var buf bytesBuffer
	buf.data = make([]byte, 0, header.Size()+len(body))
	if _, err := header.Encode(&buf); err != nil {
		return 0, err
	}
	buf.data = append(buf.data, body...)

	return w.Write(buf.Bytes())
}
