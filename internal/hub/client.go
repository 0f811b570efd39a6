package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/store"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 << 10

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string
	sheetID string
	userID  string
	meta    store.SheetMeta
}

func newClient(h *Hub, conn *websocket.Conn, meta store.SheetMeta, user string) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		id:      uuid.NewString(),
		sheetID: meta.ID,
		userID:  user,
		meta:    meta,
	}
}

// join registers the client and starts its pumps. It reports false when the
// hub is no longer running.
func (c *Client) join(ctx context.Context) bool {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		return false
	}
	go c.writePump()
	go c.readPump(ctx)
	return true
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				alog.Warnf(ctx, "hub: client %s read: %v", c.id, err)
			}
			return
		}
		msg := &Message{}
		if err := json.Unmarshal(data, msg); err != nil {
			alog.Warnf(ctx, "hub: client %s decode: %v", c.id, err)
			continue
		}
		select {
		case c.hub.requests <- request{client: c, msg: msg}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
