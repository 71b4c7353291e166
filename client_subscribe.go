package umqtt

import (
	"context"
	"fmt"
)

// Subscribe subscribes to a single topic filter and returns the granted QoS.
//
// A message listener must be set first. QoS 2 is rejected with
// ErrUnsupportedFeature. A broker refusal (SUBACK 0x80) returns a
// *SubscribeError. Accepted filters are remembered and restored after a
// reconnect that finds no session on the broker.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte) (byte, error) {
	if c.listener == nil {
		return 0, NewConfigurationError("listener", ErrNoMessageListener)
	}
	if qos >= QoS2 {
		return 0, fmt.Errorf("subscribe QoS %d: %w", qos, ErrUnsupportedFeature)
	}
	if err := ValidateTopicFilter(topic); err != nil {
		return 0, NewConfigurationError("topic filter", err)
	}
	if c.inFlight {
		return 0, NewConfigurationError("subscribe", ErrRequestInFlight)
	}

	sub := Subscription{TopicFilter: topic, QoS: qos}

	var granted byte
	err := c.withReplay(ctx, "subscribe", ErrSubscribeDropped, func(ctx context.Context) error {
		var err error
		granted, err = c.subscribeOnce(ctx, sub)
		return err
	})
	if err != nil {
		return 0, err
	}

	c.remember(sub)
	c.log.Info("subscribed", LogFields{LogFieldTopic: topic, LogFieldQoS: granted})

	return granted, nil
}

func (c *Client) subscribeOnce(ctx context.Context, sub Subscription) (byte, error) {
	pkt := &SubscribePacket{
		PacketID:      c.nextPacketID(),
		Subscriptions: []Subscription{sub},
	}
	if err := c.send(ctx, pkt); err != nil {
		return 0, err
	}

	ack, err := c.awaitAck(ctx, PacketSUBACK, pkt.PacketID)
	if err != nil {
		return 0, err
	}

	suback := ack.(*SubackPacket)
	if n := len(suback.ReturnCodes); n != 1 {
		return 0, NewProtocolError(PacketSUBACK, fmt.Sprintf("%d return codes for one filter", n), nil)
	}

	code := suback.ReturnCodes[0]
	if code == SubackFailure {
		return 0, NewSubscribeError(sub.TopicFilter, code)
	}
	return code, nil
}

func (c *Client) remember(sub Subscription) {
	for i := range c.subscriptions {
		if c.subscriptions[i].TopicFilter == sub.TopicFilter {
			c.subscriptions[i] = sub
			return
		}
	}
	c.subscriptions = append(c.subscriptions, sub)
}

// restoreSubscriptions re-sends every remembered subscription. A refused
// filter is logged and skipped; losing the connection aborts.
func (c *Client) restoreSubscriptions(ctx context.Context) error {
	for _, sub := range c.subscriptions {
		granted, err := c.subscribeOnce(ctx, sub)
		if err != nil {
			if c.conn == nil || isTransportError(err) || ctx.Err() != nil {
				return err
			}
			c.log.Warn("subscription not restored", LogFields{LogFieldTopic: sub.TopicFilter, LogFieldError: err})
			continue
		}
		c.log.Info("subscription restored", LogFields{LogFieldTopic: sub.TopicFilter, LogFieldQoS: granted})
	}
	return nil
}
