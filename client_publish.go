package umqtt

import (
	"context"
	"fmt"
)

// Publish sends an application message to topic.
//
// QoS 0 returns once the packet is written. QoS 1 blocks until the matching
// PUBACK arrives, dispatching any other packet read meanwhile. QoS 2 is
// rejected with ErrUnsupportedFeature before any I/O.
//
// If the transport fails, the client reconnects and sends the message once
// more under a fresh packet identifier. A second failure returns an error
// wrapping ErrPublishDropped.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool, qos byte) error {
	if qos >= QoS2 {
		return fmt.Errorf("publish QoS %d: %w", qos, ErrUnsupportedFeature)
	}
	if err := ValidateTopicName(topic); err != nil {
		return NewConfigurationError("topic", err)
	}
	if size := publishSize(topic, payload, qos); size > MaxRemainingLength {
		return NewConfigurationError("payload", fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size))
	}
	if qos == QoS1 && c.inFlight {
		return NewConfigurationError("publish", ErrRequestInFlight)
	}

	pkt := &PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}

	return c.withReplay(ctx, "publish", ErrPublishDropped, func(ctx context.Context) error {
		return c.publishOnce(ctx, pkt)
	})
}

func (c *Client) publishOnce(ctx context.Context, pkt *PublishPacket) error {
	if pkt.QoS == QoS0 {
		return c.send(ctx, pkt)
	}

	pkt.PacketID = c.nextPacketID()
	if err := c.send(ctx, pkt); err != nil {
		return err
	}

	_, err := c.awaitAck(ctx, PacketPUBACK, pkt.PacketID)
	return err
}

// publishSize returns the remaining length of a PUBLISH packet.
func publishSize(topic string, payload []byte, qos byte) int {
	size := 2 + len(topic) + len(payload)
	if qos > QoS0 {
		size += 2
	}
	return size
}

// nextPacketID returns the next identifier in 1..65535.
func (c *Client) nextPacketID() uint16 {
	c.nextID++
	if c.nextID == 0 {
		c.nextID = 1
	}
	return c.nextID
}
