package umqtt

import (
	"errors"
	"fmt"
	"io"
)

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = errors.New("invalid CONNACK flags")
)

// connackSize is the full on-wire size of a CONNACK: 0x20 0x02 <flags> <rc>.
const connackSize = 4

// ConnackPacket represents an MQTT CONNACK packet.
// MQTT 3.1.1: Section 3.2
type ConnackPacket struct {
	// SessionPresent indicates if the broker resumed a previous session.
	SessionPresent bool

	// ReturnCode is the connection result.
	ReturnCode ReturnCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	return encodeWithHeader(w, FixedHeader{PacketType: PacketCONNACK}, []byte{flags, byte(p.ReturnCode)})
}

// Decode reads the packet from the reader.
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0 || header.RemainingLength != 2 {
		return 0, ErrProtocolViolation
	}

	var buf [2]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	return n, p.decodeBody(buf[0], buf[1])
}

// decodeBody fills the packet from the acknowledge flags and return code bytes.
func (p *ConnackPacket) decodeBody(flags, code byte) error {
	if flags&0xFE != 0 {
		return ErrInvalidConnackFlags
	}
	p.SessionPresent = flags&0x01 != 0
	p.ReturnCode = ReturnCode(code)
	return nil
}

// parseConnack validates the exact four CONNACK bytes read after CONNECT.
func parseConnack(raw [connackSize]byte) (*ConnackPacket, error) {
	header := FixedHeader{PacketType: PacketCONNACK}
	if raw[0] != header.Byte() || raw[1] != 0x02 {
		return nil, NewProtocolError(PacketCONNACK, fmt.Sprintf("malformed header % X", raw[:2]), nil)
	}

	pkt := &ConnackPacket{}
	if err := pkt.decodeBody(raw[2], raw[3]); err != nil {
		return nil, NewProtocolError(PacketCONNACK, "bad acknowledge flags", err)
	}
	return pkt, nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate() error {
	return nil
}
