package umqtt

import (
	"context"
	"errors"
	"time"
)

// ErrPingTimeout is the cause recorded when a PINGRESP does not arrive in time.
var ErrPingTimeout = errors.New("no PINGRESP within keep-alive grace period")

// keepAliveGrace is the multiple of the keep-alive interval a broker may
// take to answer PINGREQ.
const keepAliveGrace = 1.5

// keepAlive tracks outbound activity against the interval advertised in
// CONNECT. The client never pings on its own; KeepAlive does it on demand.
type keepAlive struct {
	interval time.Duration
	lastSend time.Time
	pingSent time.Time
	now      func() time.Time
}

func (k *keepAlive) clock() time.Time {
	if k.now != nil {
		return k.now()
	}
	return time.Now()
}

func (k *keepAlive) reset() {
	k.lastSend = k.clock()
	k.pingSent = time.Time{}
}

func (k *keepAlive) sent() {
	k.lastSend = k.clock()
}

func (k *keepAlive) pong() {
	k.pingSent = time.Time{}
}

// due reports whether half the interval has passed without a send.
func (k *keepAlive) due() bool {
	if k.interval == 0 || !k.pingSent.IsZero() {
		return false
	}
	return k.clock().Sub(k.lastSend) >= k.interval/2
}

// expired reports whether an outstanding PINGREQ went unanswered too long.
func (k *keepAlive) expired() bool {
	if k.pingSent.IsZero() {
		return false
	}
	grace := time.Duration(float64(k.interval) * keepAliveGrace)
	return k.clock().Sub(k.pingSent) > grace
}

// KeepAlive sends PINGREQ when half the keep-alive interval has passed
// without traffic, and treats a PINGRESP missing for 1.5 intervals as a
// lost connection. Call it from the poll loop; the PINGRESP is consumed by
// Poll. It does nothing when keep-alive is disabled.
func (c *Client) KeepAlive(ctx context.Context) error {
	if c.conn == nil {
		return c.ensureConnected(ctx)
	}

	if c.keepAlive.expired() {
		c.log.Warn("keep-alive expired", LogFields{LogFieldDelay: c.keepAlive.interval})
		return c.reconnectAfter(ctx, NewTransportError("keep-alive", ErrPingTimeout))
	}

	if !c.keepAlive.due() {
		return nil
	}

	if err := c.Ping(ctx); err != nil {
		return err
	}
	c.keepAlive.pingSent = c.keepAlive.clock()
	return nil
}
