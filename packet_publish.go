package umqtt

import (
	"bytes"
	"errors"
	"io"
)

// PUBLISH packet errors.
var (
	ErrTopicNameEmpty = errors.New("topic name cannot be empty")
)

// PublishPacket represents an MQTT PUBLISH packet.
// MQTT 3.1.1: Section 3.3
type PublishPacket struct {
	// Topic is the topic name.
	Topic string

	// Payload is the application message.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS byte

	// Retain indicates if the message should be retained.
	Retain bool

	// DUP indicates if this is a retransmission.
	DUP bool

	// PacketID is the packet identifier (only for QoS > 0).
	PacketID uint16
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType {
	return PacketPUBLISH
}

// GetPacketID returns the packet identifier.
func (p *PublishPacket) GetPacketID() uint16 {
	return p.PacketID
}

// Message returns the application message carried by the packet.
func (p *PublishPacket) Message() *Message {
	return &Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		QoS:     p.QoS,
		Retain:  p.Retain,
		DUP:     p.DUP,
	}
}

// Encode writes the packet to the writer.
func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	buf.Grow(2 + len(p.Topic) + 2 + len(p.Payload))

	if _, err := encodeString(&buf, p.Topic); err != nil {
		return 0, err
	}

	if p.QoS > QoS0 {
		encodeUint16(&buf, p.PacketID)
	}

	buf.Write(p.Payload)

	header := FixedHeader{
		PacketType: PacketPUBLISH,
		Flags:      packPublishFlags(p.DUP, p.QoS, p.Retain),
	}
	return encodeWithHeader(w, header, buf.Bytes())
}

// Decode reads the packet from the reader.
// The payload is everything after the topic and packet identifier up to
// the remaining length.
func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketPUBLISH {
		return 0, ErrInvalidPacketType
	}

	p.DUP, p.QoS, p.Retain = unpackPublishFlags(header.Flags)
	if p.QoS > QoS2 {
		return 0, ErrInvalidQoS
	}

	topic, n, err := decodeString(r)
	if err != nil {
		return n, err
	}
	p.Topic = topic

	if p.QoS > QoS0 {
		id, n2, err := decodeUint16(r)
		n += n2
		if err != nil {
			return n, err
		}
		p.PacketID = id
	}

	if uint32(n) > header.RemainingLength {
		return n, ErrProtocolViolation
	}

	payloadLen := int(header.RemainingLength) - n
	p.Payload = nil
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		n3, err := io.ReadFull(r, p.Payload)
		n += n3
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

// Validate validates the packet contents.
func (p *PublishPacket) Validate() error {
	if p.Topic == "" {
		return ErrTopicNameEmpty
	}

	if p.QoS > QoS2 {
		return ErrInvalidQoS
	}

	if p.QoS > QoS0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	return ValidateTopicName(p.Topic)
}
