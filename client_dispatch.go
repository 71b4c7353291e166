package umqtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// errNoPacket reports that no packet started before the read deadline.
var errNoPacket = errors.New("no packet available")

// Poll blocks until one packet arrives and dispatches it.
//
// It returns the type of the packet handled. PacketCONNACK means the
// connection was (re)established during this call. Transport failures are
// handed to the reconnect supervisor before Poll returns.
func (c *Client) Poll(ctx context.Context) (PacketType, error) {
	return c.poll(ctx, noDeadline)
}

// PollNonBlocking is Poll with a short read window. It makes up to the
// configured number of attempts and returns PacketNone with a nil error when
// no packet started in any of them. A packet that has started is always
// read to the end.
func (c *Client) PollNonBlocking(ctx context.Context) (PacketType, error) {
	for range c.options.pollAttempts {
		t, err := c.poll(ctx, time.Now().Add(c.options.pollWindow))
		if err != nil || t != PacketNone {
			return t, err
		}
	}

	return PacketNone, nil
}

func (c *Client) poll(ctx context.Context, deadline time.Time) (PacketType, error) {
	if c.conn == nil {
		if err := c.ensureConnected(ctx); err != nil {
			return PacketNone, err
		}
		return PacketCONNACK, nil
	}

	pkt, err := c.readPacket(ctx, deadline)
	switch {
	case errors.Is(err, errNoPacket):
		return PacketNone, nil
	case isTransportError(err):
		return c.recoverPoll(ctx, err)
	case err != nil:
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return perr.Packet, err
		}
		return PacketNone, err
	}

	if err := c.dispatch(ctx, pkt); err != nil {
		if isTransportError(err) {
			return c.recoverPoll(ctx, err)
		}
		return pkt.Type(), err
	}

	return pkt.Type(), nil
}

func (c *Client) recoverPoll(ctx context.Context, cause error) (PacketType, error) {
	if err := c.reconnectAfter(ctx, cause); err != nil {
		return PacketNone, err
	}
	return PacketCONNACK, nil
}

// Ping sends PINGREQ. The PINGRESP is consumed by a later Poll.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	err := c.send(ctx, &PingreqPacket{})
	if isTransportError(err) {
		c.connectionLost(err)
	}
	return err
}

// readPacket reads one packet. With a non-zero deadline it returns
// errNoPacket when no byte arrived in time; once the first byte is in,
// the rest of the packet is read without a deadline.
func (c *Client) readPacket(ctx context.Context, deadline time.Time) (Packet, error) {
	conn := c.conn
	if conn == nil {
		if c.closed {
			return nil, ErrClientClosed
		}
		return nil, ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(aLongTimeAgo) })
	defer stop()

	setReadDeadline(ctx, conn, deadline)

	var first [1]byte
	if _, err := io.ReadFull(conn, first[:]); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !deadline.IsZero() && isTimeout(err) {
			return nil, errNoPacket
		}
		return nil, NewTransportError("read", err)
	}

	setReadDeadline(ctx, conn, noDeadline)

	var header FixedHeader
	if _, err := header.decodeRest(conn, first[0], 1); err != nil {
		return nil, c.readFailed(ctx, header.PacketType, err)
	}

	body := make([]byte, header.RemainingLength)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, c.readFailed(ctx, header.PacketType, err)
	}
	c.metrics.packetReceived(header.PacketType)

	pkt, err := newPacket(header.PacketType)
	if err != nil {
		return nil, NewProtocolError(header.PacketType, "unknown packet", err)
	}

	r := getBytesReader(body)
	_, err = pkt.Decode(r, header)
	putBytesReader(r)
	if err != nil {
		return nil, NewProtocolError(header.PacketType, "malformed packet", err)
	}

	c.log.Debug("packet received", LogFields{LogFieldPacketType: header.PacketType.String()})
	return pkt, nil
}

// readFailed handles an error that interrupted a packet midway. The stream
// has lost its framing, so every case drops the connection.
func (c *Client) readFailed(ctx context.Context, t PacketType, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.connectionLost(ctxErr)
		return ctxErr
	}

	if errors.Is(err, ErrInvalidPacketType) || errors.Is(err, ErrMalformedRemainingLength) {
		perr := NewProtocolError(t, "malformed fixed header", err)
		c.connectionLost(perr)
		return perr
	}

	return NewTransportError("read", err)
}

func setReadDeadline(ctx context.Context, conn Conn, t time.Time) {
	_ = conn.SetReadDeadline(t)
	if ctx.Err() != nil {
		_ = conn.SetReadDeadline(aLongTimeAgo)
	}
}

func setWriteDeadline(ctx context.Context, conn Conn, t time.Time) {
	_ = conn.SetWriteDeadline(t)
	if ctx.Err() != nil {
		_ = conn.SetWriteDeadline(aLongTimeAgo)
	}
}

// dispatch handles a packet that nobody is waiting for.
func (c *Client) dispatch(ctx context.Context, pkt Packet) error {
	switch p := pkt.(type) {
	case *PublishPacket:
		return c.deliver(ctx, p)

	case *PingrespPacket:
		c.keepAlive.pong()
		c.log.Debug("PINGRESP received", nil)
		return nil

	case *PubackPacket, *SubackPacket:
		c.log.Debug("unexpected acknowledgment discarded", LogFields{
			LogFieldPacketType: pkt.Type().String(),
			LogFieldPacketID:   pkt.(PacketWithID).GetPacketID(),
		})
		return nil

	default:
		return NewProtocolError(pkt.Type(), "not expected from a broker", nil)
	}
}

// deliver passes an inbound message to the listener and acknowledges QoS 1.
func (c *Client) deliver(ctx context.Context, p *PublishPacket) error {
	fields := LogFields{LogFieldTopic: p.Topic, LogFieldQoS: p.QoS}

	if p.QoS == QoS2 {
		c.log.Warn("QoS 2 message discarded", fields)
		return NewProtocolError(PacketPUBLISH, "QoS 2 delivery on "+p.Topic, ErrUnsupportedFeature)
	}

	conn := c.conn
	if c.listener != nil {
		c.listener(p.Message())
	} else {
		c.log.Warn("message dropped, no listener set", fields)
	}

	if p.QoS != QoS1 {
		return nil
	}
	if c.conn != conn {
		// The listener replaced the connection; the broker will redeliver.
		return nil
	}
	return c.send(ctx, &PubackPacket{PacketID: p.PacketID})
}

// send writes one packet in a single Write call.
func (c *Client) send(ctx context.Context, pkt Packet) error {
	conn := c.conn
	if conn == nil {
		return ErrNotConnected
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)
	if err := encodePacket(buf, pkt); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetWriteDeadline(aLongTimeAgo) })
	defer stop()
	setWriteDeadline(ctx, conn, noDeadline)

	if _, err := conn.Write(buf.Bytes()); err != nil {
		return NewTransportError("write "+pkt.Type().String(), ioError(ctx, err))
	}

	c.keepAlive.sent()
	c.metrics.packetSent(pkt.Type())
	c.log.Debug("packet sent", LogFields{LogFieldPacketType: pkt.Type().String()})
	return nil
}

// encodePacket validates pkt and serializes it into buf.
func encodePacket(buf *bytesBuffer, pkt Packet) error {
	if _, err := WritePacket(buf, pkt, 0); err != nil {
		return NewConfigurationError(pkt.Type().String(), err)
	}
	return nil
}

// awaitAck reads packets until the acknowledgment of type want for id
// arrives, dispatching everything else.
func (c *Client) awaitAck(ctx context.Context, want PacketType, id uint16) (Packet, error) {
	prev := c.inFlight
	c.inFlight = true
	defer func() { c.inFlight = prev }()

	conn := c.conn
	start := time.Now()
	var deadline time.Time
	if c.options.ackTimeout > 0 {
		deadline = start.Add(c.options.ackTimeout)
	}

	for {
		pkt, err := c.readPacket(ctx, deadline)
		if errors.Is(err, errNoPacket) {
			c.log.Warn("acknowledgment timed out", LogFields{LogFieldPacketType: want.String(), LogFieldPacketID: id})
			c.dropConnection(StatusConnectionLost)
			c.emit(NewConnectionLostError(ErrAckTimeout))
			return nil, fmt.Errorf("%s for packet %d: %w", want, id, ErrAckTimeout)
		}
		if err != nil {
			var perr *ProtocolError
			if errors.As(err, &perr) && perr.Packet != want && c.conn != nil {
				c.log.Warn("packet rejected while awaiting acknowledgment", LogFields{LogFieldError: err})
				continue
			}
			return nil, err
		}

		if pkt.Type() == want && pkt.(PacketWithID).GetPacketID() == id {
			c.metrics.ackWait(want, time.Since(start))
			return pkt, nil
		}

		if err := c.dispatch(ctx, pkt); err != nil {
			if isTransportError(err) || c.conn == nil {
				return nil, err
			}
			c.log.Warn("packet rejected while awaiting acknowledgment", LogFields{LogFieldError: err})
		}

		// A listener reconnected; the request never reached the new connection.
		if c.conn != conn {
			return nil, NewTransportError("await "+want.String(), ErrConnectionLost)
		}
	}
}
