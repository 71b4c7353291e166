package umqtt

import "io"

// encodeEmpty writes a packet that consists of a fixed header only.
func encodeEmpty(w io.Writer, t PacketType) (int, error) {
	header := FixedHeader{PacketType: t}
	return header.Encode(w)
}

// decodeEmpty checks the fixed header of a packet that carries no body.
func decodeEmpty(t PacketType, header FixedHeader) (int, error) {
	if header.PacketType != t {
		return 0, ErrInvalidPacketType
	}
	if header.Flags != 0x00 {
		return 0, ErrInvalidPacketFlags
	}
	if header.RemainingLength != 0 {
		return 0, ErrProtocolViolation
	}
	return 0, nil
}

// PingreqPacket represents an MQTT PINGREQ packet.
// MQTT 3.1.1: Section 3.12
type PingreqPacket struct{}

// Type returns the packet type.
func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

// Encode writes the packet to the writer.
func (p *PingreqPacket) Encode(w io.Writer) (int, error) { return encodeEmpty(w, PacketPINGREQ) }

// Decode reads the packet from the reader.
func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmpty(PacketPINGREQ, header)
}

// Validate validates the packet contents.
func (p *PingreqPacket) Validate() error { return nil }

// PingrespPacket represents an MQTT PINGRESP packet.
// MQTT 3.1.1: Section 3.13
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

// Encode writes the packet to the writer.
func (p *PingrespPacket) Encode(w io.Writer) (int, error) { return encodeEmpty(w, PacketPINGRESP) }

// Decode reads the packet from the reader.
func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader) (int, error) {
	return decodeEmpty(PacketPINGRESP, header)
}

// Validate validates the packet contents.
func (p *PingrespPacket) Validate() error { return nil }
