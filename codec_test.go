package umqtt

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codecPackets() []Packet {
	return []Packet{
		&ConnectPacket{ClientID: "c", CleanSession: true, KeepAlive: 15},
		&ConnackPacket{SessionPresent: true},
		&PublishPacket{Topic: "t", Payload: []byte("hello")},
		&PublishPacket{Topic: "t", Payload: []byte("hello"), QoS: QoS1, PacketID: 1},
		&PubackPacket{PacketID: 1},
		&SubscribePacket{PacketID: 1, Subscriptions: []Subscription{{TopicFilter: "t/#", QoS: QoS1}}},
		&SubackPacket{PacketID: 1, ReturnCodes: []byte{0x01}},
		&PingreqPacket{},
		&PingrespPacket{},
		&DisconnectPacket{},
	}
}

func TestReadWritePacketRoundTrip(t *testing.T) {
	for _, packet := range codecPackets() {
		t.Run(packet.Type().String(), func(t *testing.T) {
			var buf bytes.Buffer
			n, err := WritePacket(&buf, packet, 0)
			require.NoError(t, err)
			assert.Equal(t, buf.Len(), n)

			decoded, rn, err := ReadPacket(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, n, rn)
			assert.Equal(t, packet, decoded)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestReadPacketBackToBack(t *testing.T) {
	var buf bytes.Buffer
	for _, packet := range codecPackets() {
		_, err := WritePacket(&buf, packet, 0)
		require.NoError(t, err)
	}

	for _, want := range codecPackets() {
		got, _, err := ReadPacket(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, want.Type(), got.Type())
	}

	_, _, err := ReadPacket(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPacketMaxSize(t *testing.T) {
	packet := &PublishPacket{Topic: "test/topic", Payload: make([]byte, 1000)}

	t.Run("read", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, packet, 0)
		require.NoError(t, err)

		_, _, err = ReadPacket(bytes.NewReader(buf.Bytes()), 100)
		assert.ErrorIs(t, err, ErrPacketTooLarge)
	})

	t.Run("write", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, packet, 100)
		assert.ErrorIs(t, err, ErrPacketTooLarge)
		assert.Zero(t, buf.Len())
	})
}

func TestReadPacketErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"reserved type 0", []byte{0x00, 0x00}, ErrInvalidPacketType},
		{"PUBREC is not handled", []byte{0x50, 0x02, 0x00, 0x01}, ErrInvalidPacketType},
		{"UNSUBSCRIBE is not handled", []byte{0xA2, 0x02, 0x00, 0x01}, ErrInvalidPacketType},
		{"incomplete body", []byte{0x30, 0x10, 0x00}, io.ErrUnexpectedEOF},
		{"empty input", nil, io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadPacket(bytes.NewReader(tt.data), 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWritePacketValidationError(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePacket(&buf, &SubscribePacket{PacketID: 1}, 0)
	assert.ErrorIs(t, err, ErrNoSubscriptions)
	assert.Zero(t, buf.Len())
}

func TestBytesBufferPool(t *testing.T) {
	t.Run("reset on get", func(t *testing.T) {
		b := getBytesBuffer()
		_, _ = b.Write([]byte("data"))
		putBytesBuffer(b)

		b = getBytesBuffer()
		assert.Empty(t, b.Bytes())
		putBytesBuffer(b)
	})

	t.Run("large buffers are not pooled", func(t *testing.T) {
		b := getBytesBuffer()
		b.data = make([]byte, 0, maxPooledBuffer+1)
		putBytesBuffer(b)

		assert.NotPanics(t, func() { putBytesBuffer(nil) })
	})

	t.Run("reader", func(t *testing.T) {
		r := getBytesReader([]byte("ab"))
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, []byte("ab"), data)
		putBytesReader(r)

		assert.NotPanics(t, func() { putBytesReader(nil) })
	})
}

func BenchmarkReadPacket(b *testing.B) {
	packet := &PublishPacket{Topic: "test/topic", Payload: []byte("hello world"), QoS: QoS1, PacketID: 1}
	var buf bytes.Buffer
	_, _ = WritePacket(&buf, packet, 0)
	data := buf.Bytes()

	b.ReportAllocs()

	for b.Loop() {
		_, _, _ = ReadPacket(bytes.NewReader(data), 0)
	}
}

func BenchmarkWritePacket(b *testing.B) {
	packet := &PublishPacket{Topic: "test/topic", Payload: []byte("hello world"), QoS: QoS1, PacketID: 1}
	var buf bytes.Buffer
	buf.Grow(64)

	b.ReportAllocs()

	for b.Loop() {
		buf.Reset()
		_, _ = WritePacket(&buf, packet, 0)
	}
}

func FuzzReadPacket(f *testing.F) {
	for _, p := range codecPackets() {
		var buf bytes.Buffer
		_, _ = WritePacket(&buf, p, 0)
		f.Add(buf.Bytes())
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		pkt, _, err := ReadPacket(bytes.NewReader(data), 4096)
		if err != nil {
			return
		}

		var buf bytes.Buffer
		_, err = WritePacket(&buf, pkt, 0)
		if err == nil {
			assert.NotZero(t, buf.Len())
		}
	})
}
