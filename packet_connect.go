package umqtt

import (
	"bytes"
	"errors"
	"io"
)

// CONNECT packet constants.
const (
	protocolName  = "MQTT"
	protocolLevel = 4
)

// Connect flag bit positions.
// MQTT 3.1.1: Section 3.1.2.3
const (
	connectFlagCleanSession = 0x02
	connectFlagWillFlag     = 0x04
	connectFlagWillQoSShift = 3
	connectFlagWillQoSMask  = 0x18
	connectFlagWillRetain   = 0x20
	connectFlagPasswordFlag = 0x40
	connectFlagUsernameFlag = 0x80
)

// CONNECT packet errors.
var (
	ErrInvalidProtocolName     = errors.New("invalid protocol name")
	ErrInvalidProtocolLevel    = errors.New("unsupported protocol level")
	ErrInvalidConnectFlags     = errors.New("invalid connect flags")
	ErrPasswordWithoutUsername = errors.New("password set without username")
	ErrWillTopicRequired       = errors.New("will topic required when will flag is set")
)

// ConnectPacket represents an MQTT CONNECT packet.
// MQTT 3.1.1: Section 3.1
type ConnectPacket struct {
	// ClientID is the client identifier.
	ClientID string

	// CleanSession asks the broker to discard any previous session.
	CleanSession bool

	// KeepAlive is the keep alive interval in seconds.
	KeepAlive uint16

	// Username for authentication.
	Username string

	// Password for authentication. A nil password is not sent.
	Password []byte

	// Will message configuration.
	WillFlag    bool
	WillRetain  bool
	WillQoS     byte
	WillTopic   string
	WillPayload []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() PacketType {
	return PacketCONNECT
}

// connectFlags returns the connect flags byte.
func (p *ConnectPacket) connectFlags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}

	if p.WillFlag {
		flags |= connectFlagWillFlag
		flags |= (p.WillQoS << connectFlagWillQoSShift) & connectFlagWillQoSMask
		if p.WillRetain {
			flags |= connectFlagWillRetain
		}
	}

	if p.Password != nil {
		flags |= connectFlagPasswordFlag
	}

	if p.Username != "" {
		flags |= connectFlagUsernameFlag
	}

	return flags
}

// setConnectFlags parses the connect flags byte.
func (p *ConnectPacket) setConnectFlags(flags byte) error {
	// Reserved bit must be 0
	if flags&0x01 != 0 {
		return ErrInvalidConnectFlags
	}

	p.CleanSession = flags&connectFlagCleanSession != 0
	p.WillFlag = flags&connectFlagWillFlag != 0
	p.WillQoS = (flags & connectFlagWillQoSMask) >> connectFlagWillQoSShift
	p.WillRetain = flags&connectFlagWillRetain != 0

	if !p.WillFlag && (p.WillQoS != 0 || p.WillRetain) {
		return ErrInvalidConnectFlags
	}

	if p.WillQoS > 2 {
		return ErrInvalidConnectFlags
	}

	if flags&connectFlagPasswordFlag != 0 && flags&connectFlagUsernameFlag == 0 {
		return ErrPasswordWithoutUsername
	}

	return nil
}

// Encode writes the packet to the writer.
func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// Variable header: protocol name, level, flags, keep alive
	if _, err := encodeString(&buf, protocolName); err != nil {
		return 0, err
	}
	buf.WriteByte(protocolLevel)
	buf.WriteByte(p.connectFlags())
	encodeUint16(&buf, p.KeepAlive)

	// Payload
	if _, err := encodeString(&buf, p.ClientID); err != nil {
		return 0, err
	}

	if p.WillFlag {
		if _, err := encodeString(&buf, p.WillTopic); err != nil {
			return 0, err
		}
		if _, err := encodeBinary(&buf, p.WillPayload); err != nil {
			return 0, err
		}
	}

	if p.Username != "" {
		if _, err := encodeString(&buf, p.Username); err != nil {
			return 0, err
		}
	}

	if p.Password != nil {
		if _, err := encodeBinary(&buf, p.Password); err != nil {
			return 0, err
		}
	}

	return encodeWithHeader(w, FixedHeader{PacketType: PacketCONNECT}, buf.Bytes())
}

// Decode reads the packet from the reader.
func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if header.PacketType != PacketCONNECT {
		return 0, ErrInvalidPacketType
	}
	if err := header.ValidateFlags(); err != nil {
		return 0, err
	}

	name, n, err := decodeString(r)
	if err != nil {
		return n, err
	}
	if name != protocolName {
		return n, ErrInvalidProtocolName
	}

	var fixed [2]byte
	n2, err := io.ReadFull(r, fixed[:])
	n += n2
	if err != nil {
		return n, err
	}
	if fixed[0] != protocolLevel {
		return n, ErrInvalidProtocolLevel
	}

	flags := fixed[1]
	if err := p.setConnectFlags(flags); err != nil {
		return n, err
	}

	keepAlive, n3, err := decodeUint16(r)
	n += n3
	if err != nil {
		return n, err
	}
	p.KeepAlive = keepAlive

	clientID, n4, err := decodeString(r)
	n += n4
	if err != nil {
		return n, err
	}
	p.ClientID = clientID

	if p.WillFlag {
		topic, nt, err := decodeString(r)
		n += nt
		if err != nil {
			return n, err
		}
		payload, np, err := decodeBinary(r)
		n += np
		if err != nil {
			return n, err
		}
		p.WillTopic = topic
		p.WillPayload = payload
	}

	if flags&connectFlagUsernameFlag != 0 {
		username, nu, err := decodeString(r)
		n += nu
		if err != nil {
			return n, err
		}
		p.Username = username
	}

	if flags&connectFlagPasswordFlag != 0 {
		password, np, err := decodeBinary(r)
		n += np
		if err != nil {
			return n, err
		}
		if password == nil {
			password = []byte{}
		}
		p.Password = password
	}

	return n, nil
}

// Validate validates the packet contents.
func (p *ConnectPacket) Validate() error {
	if p.WillFlag {
		if p.WillTopic == "" {
			return ErrWillTopicRequired
		}
		if p.WillQoS > 2 {
			return ErrInvalidQoS
		}
	}

	if p.Password != nil && p.Username == "" {
		return ErrPasswordWithoutUsername
	}

	return nil
}
