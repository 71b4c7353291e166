package umqtt

import (
	"context"
	"errors"
	"fmt"
)

// ensureConnected returns nil when a transport is up and otherwise runs
// the reconnect supervisor, unless reconnecting cannot help.
func (c *Client) ensureConnected(ctx context.Context) error {
	switch {
	case c.conn != nil:
		return nil
	case c.closed:
		return ErrClientClosed
	case c.address == "":
		return ErrNotConnected
	case c.fatal != nil:
		return fmt.Errorf("%w: %w", ErrNotConnected, c.fatal)
	}

	return c.reconnect(ctx)
}

// reconnectAfter records the transport failure cause and reconnects.
func (c *Client) reconnectAfter(ctx context.Context, cause error) error {
	if c.conn != nil {
		c.connectionLost(cause)
	}
	return c.reconnect(ctx)
}

// recoverFrom reconnects after fn failed on used, unless a nested call
// (a listener publishing during an acknowledgment wait) already replaced it.
func (c *Client) recoverFrom(ctx context.Context, used Conn, cause error) error {
	if c.conn != nil && c.conn != used {
		c.log.Debug("connection already replaced", LogFields{LogFieldError: cause})
		return nil
	}
	return c.reconnectAfter(ctx, cause)
}

// withReplay runs fn on a live connection. After a transport failure it
// reconnects and runs fn once more; a second failure is reported wrapped
// in dropped once the connection is back.
func (c *Client) withReplay(ctx context.Context, op string, dropped error, fn func(context.Context) error) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	used := c.conn
	err := fn(ctx)
	if !isTransportError(err) {
		return err
	}

	c.log.Warn(op+" interrupted, replaying after reconnect", LogFields{LogFieldError: err})
	if rerr := c.recoverFrom(ctx, used, err); rerr != nil {
		return rerr
	}

	used = c.conn
	err = fn(ctx)
	if !isTransportError(err) {
		return err
	}

	if rerr := c.recoverFrom(ctx, used, err); rerr != nil {
		return errors.Join(NewTransportError(op, fmt.Errorf("%w: %w", dropped, err)), rerr)
	}
	return NewTransportError(op, fmt.Errorf("%w: %w", dropped, err))
}

// reconnect retries the handshake until it succeeds, the broker rejects
// it, the attempt limit is reached or ctx ends. Attempt n waits
// reconnectDelayFor(n) first, so delays strictly increase.
func (c *Client) reconnect(ctx context.Context) error {
	cancelled := false
	cancel := func() { cancelled = true }

	var lastErr error
	for attempt := 1; ; attempt++ {
		if c.closed {
			return ErrClientClosed
		}

		limit := c.options.maxReconnects
		if limit > 0 && attempt > limit {
			c.log.Error("reconnect attempts exhausted", LogFields{LogFieldAttempt: limit, LogFieldError: lastErr})
			c.emit(ErrReconnectFailed)
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, limit, lastErr)
		}

		delay := c.options.reconnectDelayFor(attempt)
		c.emit(NewReconnectEvent(attempt, limit, delay, cancel))
		if cancelled {
			c.log.Info("reconnect cancelled", LogFields{LogFieldAttempt: attempt})
			return fmt.Errorf("%w: cancelled by event handler", ErrReconnectFailed)
		}

		c.setStatus(StatusDisconnected)
		c.log.Info("reconnecting", LogFields{LogFieldAttempt: attempt, LogFieldDelay: delay})
		c.metrics.reconnectAttempt()

		if err := c.options.sleep(ctx, delay); err != nil {
			return err
		}

		sessionPresent, err := c.connect(ctx, false, true)
		if err == nil {
			if sessionPresent || len(c.subscriptions) == 0 {
				return nil
			}
			if err = c.restoreSubscriptions(ctx); err == nil {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if c.conn != nil {
				c.connectionLost(err)
			}
		} else if !isTransportError(err) {
			return err
		}

		lastErr = err
		c.log.Warn("reconnect attempt failed", LogFields{LogFieldAttempt: attempt, LogFieldError: err})
	}
}
