package umqtt

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyDialer dials TCP but fails the dials listed in failures (1-based).
type flakyDialer struct {
	dials    int
	failures map[int]bool
	failAll  bool
}

func (d *flakyDialer) Dial(ctx context.Context, address string) (Conn, error) {
	d.dials++
	if d.dials > 1 && (d.failAll || d.failures[d.dials]) {
		return nil, errors.New("connection refused")
	}

	var nd net.Dialer
	return nd.DialContext(ctx, "tcp", address)
}

func TestClientReconnectDelaysIncrease(t *testing.T) {
	b := newMockBroker(t)
	sleeper := &noSleep{}
	events := &eventRecorder{}
	dialer := &flakyDialer{failures: map[int]bool{2: true, 3: true, 4: true}}

	c, bc := connectedClient(t, b,
		WithDialer(dialer),
		WithReconnectDelay(100*time.Millisecond),
		withSleep(sleeper.sleep),
		OnEvent(events.handler),
	)

	bc.conn.Close()
	resCh := pollAsync(context.Background(), c)

	connect := b.accept(t).handshake(t, ReturnAccepted, false)
	res := await(t, resCh)
	require.NoError(t, res.err)
	assert.Equal(t, PacketCONNACK, res.packet)
	assert.True(t, c.IsConnected())

	assert.False(t, connect.CleanSession, "reconnects resume the session")
	assert.Equal(t, 5, dialer.dials)
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		400 * time.Millisecond,
	}, sleeper.recorded())

	assert.Equal(t, 1, events.count(ErrConnectionLost))
	assert.Equal(t, 4, events.count(ErrReconnecting))
	assert.Equal(t, 2, events.count(ErrConnected))

	var ce *ConnectedEvent
	require.ErrorAs(t, events.events[len(events.events)-1], &ce)
	assert.True(t, ce.Reconnect)
}

func TestClientReconnectUnlimitedByDefault(t *testing.T) {
	b := newMockBroker(t)
	sleeper := &noSleep{}

	failures := make(map[int]bool)
	for i := 2; i <= 51; i++ {
		failures[i] = true
	}
	dialer := &flakyDialer{failures: failures}

	c, bc := connectedClient(t, b, WithDialer(dialer), withSleep(sleeper.sleep))

	bc.conn.Close()
	resCh := pollAsync(context.Background(), c)
	b.accept(t).handshake(t, ReturnAccepted, false)
	require.NoError(t, await(t, resCh).err)

	delays := sleeper.recorded()
	require.Len(t, delays, 51)
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}
}

func TestClientReconnectMaxAttempts(t *testing.T) {
	b := newMockBroker(t)
	sleeper := &noSleep{}
	events := &eventRecorder{}

	c, bc := connectedClient(t, b,
		WithDialer(&flakyDialer{failAll: true}),
		WithMaxReconnects(2),
		withSleep(sleeper.sleep),
		OnEvent(events.handler),
	)

	bc.conn.Close()
	res := await(t, pollAsync(context.Background(), c))

	assert.ErrorIs(t, res.err, ErrReconnectFailed)
	assert.ErrorIs(t, res.err, ErrTransport)
	assert.Equal(t, PacketNone, res.packet)
	assert.Len(t, sleeper.recorded(), 2)
	assert.Equal(t, 1, events.count(ErrReconnectFailed))
	assert.False(t, c.IsConnected())

	var re *ReconnectEvent
	require.ErrorAs(t, events.events[2], &re)
	assert.Equal(t, 2, re.MaxAttempts)
}

func TestClientReconnectCancelledByEvent(t *testing.T) {
	b := newMockBroker(t)
	sleeper := &noSleep{}

	c, bc := connectedClient(t, b,
		WithDialer(&flakyDialer{failAll: true}),
		withSleep(sleeper.sleep),
		OnEvent(func(_ *Client, event error) {
			var re *ReconnectEvent
			if errors.As(event, &re) && re.Attempt == 3 {
				re.Cancel()
			}
		}),
	)

	bc.conn.Close()
	res := await(t, pollAsync(context.Background(), c))

	assert.ErrorIs(t, res.err, ErrReconnectFailed)
	assert.Len(t, sleeper.recorded(), 2)
}

func TestClientReconnectContextCancel(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, WithReconnectDelay(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	bc.conn.Close()
	resCh := pollAsync(ctx, c)

	time.Sleep(20 * time.Millisecond)
	cancel()

	res := await(t, resCh)
	assert.ErrorIs(t, res.err, context.Canceled)
	assert.False(t, c.IsConnected())
}

func TestClientReconnectRejected(t *testing.T) {
	b := newMockBroker(t)
	sleeper := &noSleep{}
	c, bc := connectedClient(t, b, withSleep(sleeper.sleep))

	bc.conn.Close()
	resCh := pollAsync(context.Background(), c)
	b.accept(t).handshake(t, ReturnNotAuthorized, false)

	res := await(t, resCh)
	assert.ErrorIs(t, res.err, ErrAuthFailed)
	assert.Equal(t, StatusUnauthorized, c.Status())
	assert.Len(t, sleeper.recorded(), 1, "a rejection is not retried")

	_, err := c.Poll(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientReconnectAfterDisconnect(t *testing.T) {
	b := newMockBroker(t)
	c, _ := connectedClient(t, b)
	require.NoError(t, c.Disconnect())

	assert.ErrorIs(t, c.reconnect(context.Background()), ErrClientClosed)
}

func TestClientRestoresSubscriptions(t *testing.T) {
	tests := []struct {
		name           string
		sessionPresent bool
	}{
		{"broker lost the session", false},
		{"broker kept the session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBroker(t)
			c, bc := connectedClient(t, b, withSleep((&noSleep{}).sleep))
			c.SetMessageListener(func(*Message) {})

			resCh := subscribeAsync(context.Background(), c, "a/#", QoS1)
			sub := bc.expect(t, PacketSUBSCRIBE).(*SubscribePacket)
			bc.send(t, &SubackPacket{PacketID: sub.PacketID, ReturnCodes: []byte{QoS1}})
			require.NoError(t, await(t, resCh).err)

			bc.conn.Close()
			pollCh := pollAsync(context.Background(), c)

			bc2 := b.accept(t)
			bc2.handshake(t, ReturnAccepted, tt.sessionPresent)

			if tt.sessionPresent {
				bc2.silent(t)
			} else {
				resub := bc2.expect(t, PacketSUBSCRIBE).(*SubscribePacket)
				assert.Equal(t, []Subscription{{TopicFilter: "a/#", QoS: QoS1}}, resub.Subscriptions)
				bc2.send(t, &SubackPacket{PacketID: resub.PacketID, ReturnCodes: []byte{QoS1}})
			}

			res := await(t, pollCh)
			require.NoError(t, res.err)
			assert.Equal(t, PacketCONNACK, res.packet)
		})
	}
}

func TestClientRestoreSkipsRefusedFilter(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, withSleep((&noSleep{}).sleep))
	c.SetMessageListener(func(*Message) {})
	c.subscriptions = []Subscription{{TopicFilter: "a"}, {TopicFilter: "b"}}

	bc.conn.Close()
	pollCh := pollAsync(context.Background(), c)

	bc2 := b.accept(t)
	bc2.handshake(t, ReturnAccepted, false)

	first := bc2.expect(t, PacketSUBSCRIBE).(*SubscribePacket)
	bc2.send(t, &SubackPacket{PacketID: first.PacketID, ReturnCodes: []byte{SubackFailure}})
	second := bc2.expect(t, PacketSUBSCRIBE).(*SubscribePacket)
	assert.Equal(t, "b", second.Subscriptions[0].TopicFilter)
	bc2.send(t, &SubackPacket{PacketID: second.PacketID, ReturnCodes: []byte{QoS0}})

	require.NoError(t, await(t, pollCh).err)
}

func TestClientPublishReplay(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, withSleep((&noSleep{}).sleep))

	errCh := async(func() error {
		return c.Publish(context.Background(), "a", []byte("x"), false, QoS1)
	})

	first := bc.expect(t, PacketPUBLISH).(*PublishPacket)
	bc.conn.Close()

	bc2 := b.accept(t)
	bc2.handshake(t, ReturnAccepted, true)

	replay := bc2.expect(t, PacketPUBLISH).(*PublishPacket)
	assert.NotEqual(t, first.PacketID, replay.PacketID, "replay uses a fresh packet id")
	assert.Equal(t, first.Payload, replay.Payload)
	bc2.send(t, &PubackPacket{PacketID: replay.PacketID})

	require.NoError(t, await(t, errCh))
}

func TestClientPublishDroppedAfterSecondFailure(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, withSleep((&noSleep{}).sleep))

	errCh := async(func() error {
		return c.Publish(context.Background(), "a", []byte("x"), false, QoS1)
	})

	bc.expect(t, PacketPUBLISH)
	bc.conn.Close()

	bc2 := b.accept(t)
	bc2.handshake(t, ReturnAccepted, true)
	bc2.expect(t, PacketPUBLISH)
	bc2.conn.Close()

	b.accept(t).handshake(t, ReturnAccepted, true)

	err := await(t, errCh)
	assert.ErrorIs(t, err, ErrPublishDropped)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, c.IsConnected(), "the connection is restored even though the message was dropped")
}

func TestClientSubscribeDroppedAfterSecondFailure(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, withSleep((&noSleep{}).sleep))
	c.SetMessageListener(func(*Message) {})

	resCh := subscribeAsync(context.Background(), c, "a", QoS0)

	bc.expect(t, PacketSUBSCRIBE)
	bc.conn.Close()

	bc2 := b.accept(t)
	bc2.handshake(t, ReturnAccepted, true)
	bc2.expect(t, PacketSUBSCRIBE)
	bc2.conn.Close()

	b.accept(t).handshake(t, ReturnAccepted, true)

	res := await(t, resCh)
	assert.ErrorIs(t, res.err, ErrSubscribeDropped)
	assert.Empty(t, c.subscriptions)
}

func TestClientPollReconnectsAfterAckTimeout(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, WithAckTimeout(30*time.Millisecond), withSleep((&noSleep{}).sleep))

	errCh := async(func() error {
		return c.Publish(context.Background(), "a", nil, false, QoS1)
	})
	bc.expect(t, PacketPUBLISH)
	require.ErrorIs(t, await(t, errCh), ErrAckTimeout)

	resCh := pollAsync(context.Background(), c)
	b.accept(t).handshake(t, ReturnAccepted, true)

	res := await(t, resCh)
	require.NoError(t, res.err)
	assert.Equal(t, PacketCONNACK, res.packet)
}

func TestClientKeepAlive(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, WithKeepAlive(10), withSleep((&noSleep{}).sleep))

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	c.keepAlive.now = clock.Now
	c.keepAlive.reset()
	ctx := context.Background()

	t.Run("idle connection is not pinged early", func(t *testing.T) {
		clock.Advance(4 * time.Second)
		require.NoError(t, c.KeepAlive(ctx))
		bc.silent(t)
	})

	t.Run("ping after half the interval", func(t *testing.T) {
		clock.Advance(time.Second)
		require.NoError(t, c.KeepAlive(ctx))
		bc.expect(t, PacketPINGREQ)

		require.NoError(t, c.KeepAlive(ctx))
		bc.silent(t)
	})

	t.Run("PINGRESP clears the outstanding ping", func(t *testing.T) {
		bc.send(t, &PingrespPacket{})
		assert.Equal(t, PacketPINGRESP, pollUntilPacket(t, c))
		assert.False(t, c.keepAlive.expired())
	})

	t.Run("missing PINGRESP reconnects", func(t *testing.T) {
		clock.Advance(5 * time.Second)
		require.NoError(t, c.KeepAlive(ctx))
		bc.expect(t, PacketPINGREQ)

		clock.Advance(16 * time.Second)
		errCh := async(func() error { return c.KeepAlive(ctx) })

		b.accept(t).handshake(t, ReturnAccepted, true)
		require.NoError(t, await(t, errCh))
		assert.True(t, c.IsConnected())
		assert.False(t, c.keepAlive.expired())
	})
}

func TestClientKeepAliveDisabled(t *testing.T) {
	b := newMockBroker(t)
	c, bc := connectedClient(t, b, WithKeepAlive(0))

	c.keepAlive.lastSend = time.Now().Add(-time.Hour)
	require.NoError(t, c.KeepAlive(context.Background()))
	bc.silent(t)
}

func TestClientPublishReplayedAfterListenerReconnect(t *testing.T) {
	b := newMockBroker(t)
	events := &eventRecorder{}
	c, bc := connectedClient(t, b, withSleep((&noSleep{}).sleep), OnEvent(events.handler))

	var stateErr error
	c.SetMessageListener(func(msg *Message) {
		if msg.Topic != "switch/set" {
			return
		}
		// The transport dies while the listener reports its new state.
		_ = c.conn.Close()
		stateErr = c.Publish(context.Background(), "switch/state", []byte("ON"), false, QoS0)
	})

	errCh := async(func() error {
		return c.Publish(context.Background(), "switch/log", []byte("boot"), false, QoS1)
	})

	first := bc.expect(t, PacketPUBLISH).(*PublishPacket)
	bc.send(t, &PublishPacket{Topic: "switch/set", Payload: []byte("ON")})

	bc2 := b.accept(t)
	bc2.handshake(t, ReturnAccepted, true)

	state := bc2.expect(t, PacketPUBLISH).(*PublishPacket)
	assert.Equal(t, "switch/state", state.Topic)

	replay := bc2.expect(t, PacketPUBLISH).(*PublishPacket)
	assert.Equal(t, "switch/log", replay.Topic)
	assert.NotEqual(t, first.PacketID, replay.PacketID)
	bc2.send(t, &PubackPacket{PacketID: replay.PacketID})

	require.NoError(t, await(t, errCh))
	assert.NoError(t, stateErr)
	assert.Equal(t, 1, events.count(ErrConnectionLost), "the replacement connection is kept")
	assert.True(t, c.IsConnected())
}

func TestClientReconnectPassesThroughDisconnected(t *testing.T) {
	b := newMockBroker(t)

	type transition struct{ old, current Status }
	var transitions []transition

	c, bc := connectedClient(t, b,
		WithDialer(&flakyDialer{failures: map[int]bool{2: true, 3: true}}),
		withSleep((&noSleep{}).sleep),
		OnStatusChange(func(old, current Status) {
			transitions = append(transitions, transition{old, current})
		}),
	)

	bc.conn.Close()
	resCh := pollAsync(context.Background(), c)
	b.accept(t).handshake(t, ReturnAccepted, false)
	require.NoError(t, await(t, resCh).err)

	connecting := 0
	for _, tr := range transitions {
		if tr.current == StatusConnecting {
			connecting++
			assert.Equal(t, StatusDisconnected, tr.old, "every attempt starts from disconnected")
		}
	}
	assert.Equal(t, 4, connecting, "Begin plus three reconnect attempts")
	assert.Contains(t, transitions, transition{StatusConnectionFailed, StatusDisconnected})
}
