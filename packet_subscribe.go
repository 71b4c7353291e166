package umqtt

import (
	"bytes"
	"errors"
	"io"
)

// SUBSCRIBE packet errors.
var (
	ErrNoSubscriptions     = errors.New("subscribe requires at least one topic filter")
	ErrInvalidRequestedQoS = errors.New("requested QoS byte has reserved bits set")
)

// Subscription is a topic filter with the requested maximum QoS.
// MQTT 3.1.1: Section 3.8.3
type Subscription struct {
	TopicFilter string
	QoS         byte
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
// MQTT 3.1.1: Section 3.8
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 { return p.PacketID }

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	encodeUint16(&buf, p.PacketID)

	for _, sub := range p.Subscriptions {
		if _, err := encodeString(&buf, sub.TopicFilter); err != nil {
			return 0, err
		}
		buf.WriteByte(sub.QoS)
	}

	return encodeWithHeader(w, FixedHeader{PacketType: PacketSUBSCRIBE, Flags: flagsSubscribe}, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}
	if err := header.ValidateFlags(); err != nil {
		return 0, err
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, err
	}
	p.PacketID = id

	p.Subscriptions = p.Subscriptions[:0]
	for uint32(n) < header.RemainingLength {
		filter, n2, err := decodeString(r)
		n += n2
		if err != nil {
			return n, err
		}

		var qos [1]byte
		n3, err := io.ReadFull(r, qos[:])
		n += n3
		if err != nil {
			return n, err
		}
		if qos[0]&0xFC != 0 {
			return n, ErrInvalidRequestedQoS
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{TopicFilter: filter, QoS: qos[0]})
	}

	if len(p.Subscriptions) == 0 {
		return n, ErrNoSubscriptions
	}

	return n, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}

	for _, sub := range p.Subscriptions {
		if sub.QoS > QoS2 {
			return ErrInvalidQoS
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
	}

	return nil
}
