package umqtt

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSubprotocol is the MQTT WebSocket subprotocol.
const WebSocketSubprotocol = "mqtt"

// ErrTextFrame is returned when the broker sends a text WebSocket frame.
var ErrTextFrame = errors.New("websocket: MQTT requires binary frames")

type wsFrame struct {
	data []byte
	err  error
}

// WSConn adapts a WebSocket connection to net.Conn.
//
// A goroutine owns the underlying reader and hands frames over a channel,
// so read deadlines are enforced here and a timeout leaves the connection
// usable. gorilla/websocket treats its own read timeouts as fatal.
type WSConn struct {
	conn   *websocket.Conn
	frames chan wsFrame
	done   chan struct{}
	once   sync.Once

	// Read side, owned by the reading goroutine.
	buf []byte
	err error

	mu              sync.Mutex
	readDeadline    time.Time
	deadlineChanged chan struct{}
}

func newWSConn(conn *websocket.Conn) *WSConn {
	c := &WSConn{
		conn:            conn,
		frames:          make(chan wsFrame),
		done:            make(chan struct{}),
		deadlineChanged: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *WSConn) pump() {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err == nil && typ != websocket.BinaryMessage {
			err = ErrTextFrame
		}

		select {
		case c.frames <- wsFrame{data: data, err: err}:
		case <-c.done:
			return
		}

		if err != nil {
			return
		}
	}
}

// Read reads from the current frame, waiting for the next one if needed.
func (c *WSConn) Read(b []byte) (int, error) {
	for len(c.buf) == 0 {
		if c.err != nil {
			return 0, c.err
		}

		frame, err := c.nextFrame()
		if err != nil {
			return 0, err
		}
		if frame.err != nil {
			c.err = frame.err
			return 0, c.err
		}
		c.buf = frame.data
	}

	n := copy(b, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *WSConn) nextFrame() (wsFrame, error) {
	for {
		c.mu.Lock()
		deadline, changed := c.readDeadline, c.deadlineChanged
		c.mu.Unlock()

		frame, retry, err := c.waitFrame(deadline, changed)
		if !retry {
			return frame, err
		}
	}
}

// waitFrame waits for a frame until deadline. retry is set when the
// deadline was changed while waiting.
func (c *WSConn) waitFrame(deadline time.Time, changed <-chan struct{}) (frame wsFrame, retry bool, err error) {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return wsFrame{}, false, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case frame = <-c.frames:
		return frame, false, nil
	case <-timeout:
		return wsFrame{}, false, os.ErrDeadlineExceeded
	case <-changed:
		return wsFrame{}, true, nil
	case <-c.done:
		return wsFrame{}, false, net.ErrClosed
	}
}

// Write sends b as one binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the connection and stops the frame reader.
func (c *WSConn) Close() error {
	err := net.ErrClosed
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// LocalAddr returns the local network address.
func (c *WSConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline and wakes a blocked Read.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	close(c.deadlineChanged)
	c.deadlineChanged = make(chan struct{})
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline sets the write deadline.
func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WSDialer connects to brokers over WebSocket.
type WSDialer struct {
	// Dialer is the underlying WebSocket dialer.
	Dialer *websocket.Dialer

	// Header is the HTTP header to send with the handshake.
	Header http.Header
}

// NewWSDialer creates a WebSocket dialer offering the mqtt subprotocol.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:    []string{WebSocketSubprotocol},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Dial connects to a ws:// or wss:// URL.
func (d *WSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	return newWSConn(conn), nil
}
