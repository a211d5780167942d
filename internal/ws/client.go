package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Client represents a websocket client connection.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu        sync.Mutex
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// NewClient constructs a client wrapper and starts draining inbound frames.
// Done is closed once the peer goes away.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	c := &Client{conn: conn, log: logger, done: make(chan struct{})}
	conn.SetReadLimit(maxMessageSize)
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer c.markDone()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read ended", "error", err)
			}
			return
		}
	}
}

func (c *Client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		return err
	}
	return nil
}

// Done is closed when the peer disconnects.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close sends a close frame and terminates the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.mu.Unlock()
		_ = c.conn.Close()
		c.markDone()
	})
}
