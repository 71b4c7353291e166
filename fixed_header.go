package umqtt

import (
	"errors"
	"io"
)

// PacketType represents an MQTT control packet type.
type PacketType byte

// MQTT 3.1.1 control packet types handled by the client.
const (
	// PacketNone is returned by a poll that found no packet.
	PacketNone PacketType = 0

	PacketCONNECT    PacketType = 1
	PacketCONNACK    PacketType = 2
	PacketPUBLISH    PacketType = 3
	PacketPUBACK     PacketType = 4
	PacketSUBSCRIBE  PacketType = 8
	PacketSUBACK     PacketType = 9
	PacketPINGREQ    PacketType = 12
	PacketPINGRESP   PacketType = 13
	PacketDISCONNECT PacketType = 14
)

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	switch p {
	case PacketNone:
		return "NONE"
	case PacketCONNECT:
		return "CONNECT"
	case PacketCONNACK:
		return "CONNACK"
	case PacketPUBLISH:
		return "PUBLISH"
	case PacketPUBACK:
		return "PUBACK"
	case PacketSUBSCRIBE:
		return "SUBSCRIBE"
	case PacketSUBACK:
		return "SUBACK"
	case PacketPINGREQ:
		return "PINGREQ"
	case PacketPINGRESP:
		return "PINGRESP"
	case PacketDISCONNECT:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the packet type is one the client understands.
func (p PacketType) Valid() bool {
	switch p {
	case PacketCONNECT, PacketCONNACK, PacketPUBLISH, PacketPUBACK,
		PacketSUBSCRIBE, PacketSUBACK, PacketPINGREQ, PacketPINGRESP, PacketDISCONNECT:
		return true
	}
	return false
}

// Fixed header errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// Bit layout of the first fixed-header byte.
//
//	bit:   7 6 5 4 | 3   | 2 1 | 0
//	       type    | DUP | QoS | RETAIN
const (
	packetTypeShift = 4
	flagsMask       = 0x0F

	flagRetain   = 0x01
	flagQoSMask  = 0x06
	flagQoSShift = 1
	flagDUP      = 0x08

	// flagsSubscribe is the fixed reserved flag value of SUBSCRIBE.
	flagsSubscribe = 0x02
)

// packPublishFlags builds the low nibble of a PUBLISH fixed header.
func packPublishFlags(dup bool, qos byte, retain bool) byte {
	var flags byte
	if retain {
		flags |= flagRetain
	}
	flags |= (qos << flagQoSShift) & flagQoSMask
	if dup {
		flags |= flagDUP
	}
	return flags
}

// unpackPublishFlags splits the low nibble of a PUBLISH fixed header.
func unpackPublishFlags(flags byte) (dup bool, qos byte, retain bool) {
	return flags&flagDUP != 0, (flags & flagQoSMask) >> flagQoSShift, flags&flagRetain != 0
}

// FixedHeader represents the fixed header of an MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Byte returns the first fixed-header byte.
func (h *FixedHeader) Byte() byte {
	return byte(h.PacketType)<<packetTypeShift | (h.Flags & flagsMask)
}

// Encode writes the fixed header to the writer.
// Returns the number of bytes written.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}

	var buf [1 + maxRemainingLengthBytes]byte
	buf[0] = h.Byte()

	n, err := putRemainingLength(buf[1:], h.RemainingLength)
	if err != nil {
		return 0, err
	}

	return w.Write(buf[:1+n])
}

// Decode reads the fixed header from the reader.
// Returns the number of bytes read.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	return h.decodeRest(r, buf[0], n)
}

// decodeRest completes decoding once the first byte has been read.
func (h *FixedHeader) decodeRest(r io.Reader, first byte, n int) (int, error) {
	h.PacketType = PacketType(first >> packetTypeShift)
	h.Flags = first & flagsMask

	if !h.PacketType.Valid() {
		return n, ErrInvalidPacketType
	}

	length, n2, err := decodeRemainingLength(r)
	n += n2
	if err != nil {
		return n, err
	}

	h.RemainingLength = length
	return n, nil
}

// Size returns the encoded size of the fixed header in bytes.
func (h *FixedHeader) Size() int {
	return 1 + remainingLengthSize(h.RemainingLength)
}

// ValidateFlags validates the flags for the packet type.
func (h *FixedHeader) ValidateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		if h.QoS() > 2 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketSUBSCRIBE:
		if h.Flags != flagsSubscribe {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketCONNECT, PacketCONNACK, PacketPUBACK, PacketSUBACK,
		PacketPINGREQ, PacketPINGRESP, PacketDISCONNECT:
		if h.Flags != 0x00 {
			return ErrInvalidPacketFlags
		}
		return nil

	default:
		return ErrInvalidPacketType
	}
}

// PUBLISH flag accessors

// DUP returns the DUP flag from PUBLISH packet flags.
func (h *FixedHeader) DUP() bool {
	dup, _, _ := unpackPublishFlags(h.Flags)
	return dup
}

// QoS returns the QoS level from PUBLISH packet flags.
func (h *FixedHeader) QoS() byte {
	_, qos, _ := unpackPublishFlags(h.Flags)
	return qos
}

// Retain returns the RETAIN flag from PUBLISH packet flags.
func (h *FixedHeader) Retain() bool {
	_, _, retain := unpackPublishFlags(h.Flags)
	return retain
}
