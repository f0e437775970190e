// ABOUTME: Websocket connection wrapper stored in the peer registry.
// ABOUTME: Serializes writes; gorilla connections allow one concurrent writer.

package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/hub-relay/internal/wire"
)

// writeWait bounds how long a single frame write may block on a slow peer.
const writeWait = 10 * time.Second

// wsConn adapts a gorilla websocket connection to the registry's Conn
// interface. The relay engine, the liveness monitor, and the read loop all
// write concurrently: data frames are serialized through one mutex, while
// Ping and Close stay lock-free because gorilla allows WriteControl and
// Close concurrently with all other methods. A stalled data write
// therefore cannot delay liveness traffic.
type wsConn struct {
	mu   sync.Mutex // guards SetWriteDeadline + WriteMessage
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// WriteEnvelope encodes env as JSON and writes it as one text frame.
func (c *wsConn) WriteEnvelope(env *wire.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// Ping sends a transport-level ping control frame. The peer's pong is
// observed by the read loop and recorded as a heartbeat.
func (c *wsConn) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame with the given code and reason, then tears
// down the underlying connection.
func (c *wsConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	// Best effort: the peer may already be gone.
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return c.conn.Close()
}
