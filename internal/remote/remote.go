// Package remote connects sessions to a hub over websocket.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lijuchacko/sheetsync/internal/auth"
	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/collab"
	"github.com/lijuchacko/sheetsync/internal/hub"
	"github.com/lijuchacko/sheetsync/internal/store"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	initWait  = 10 * time.Second

	// Presence updates beyond this backlog are dropped; later ones supersede
	// them.
	presenceBuffer = 64
)

// Dialer implements collab.Transport against a hub at URL (ws:// or wss://
// ending in /ws).
type Dialer struct {
	URL       string
	User      string
	AccessKey string
	// Bounds sizes the sheet if the hub has to create it; zero uses the
	// hub default.
	Bounds cell.Bounds
}

func (d *Dialer) Connect(ctx context.Context, sheetID string) (collab.Conn, error) {
	c, err := d.Dial(ctx, sheetID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Dial opens a connection and waits for the hub's INIT.
func (d *Dialer) Dial(ctx context.Context, sheetID string) (*Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	q.Set("sheet", sheetID)
	q.Set("user", d.User)
	if d.Bounds.Rows > 0 && d.Bounds.Cols > 0 {
		q.Set("rows", strconv.Itoa(d.Bounds.Rows))
		q.Set("cols", strconv.Itoa(d.Bounds.Cols))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.AccessKey != "" {
		header.Set(auth.Header, d.AccessKey)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	var init hub.Message
	_ = ws.SetReadDeadline(time.Now().Add(initWait))
	if err := ws.ReadJSON(&init); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read init: %w", err)
	}
	if init.Type != hub.TypeInit {
		ws.Close()
		return nil, fmt.Errorf("expected %s, got %s", hub.TypeInit, init.Type)
	}
	var meta store.SheetMeta
	if err := json.Unmarshal(init.Payload, &meta); err != nil {
		ws.Close()
		return nil, fmt.Errorf("decode init: %w", err)
	}

	c := &Conn{
		ws:       ws,
		meta:     meta,
		user:     d.User,
		waiting:  make(map[string]chan *hub.Message),
		changes:  make(chan store.CellRow),
		presence: make(chan collab.Presence, presenceBuffer),
		done:     make(chan struct{}),
	}
	in := make(chan store.CellRow)
	go c.forward(in)
	go c.readLoop(in)
	return c, nil
}

// Conn is a live hub connection for one sheet.
type Conn struct {
	ws   *websocket.Conn
	user string

	writeMu sync.Mutex

	mu      sync.Mutex
	meta    store.SheetMeta
	waiting map[string]chan *hub.Message
	err     error

	changes   chan store.CellRow
	presence  chan collab.Presence
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Conn) Meta() store.SheetMeta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

func (c *Conn) Changes() <-chan store.CellRow { return c.changes }

func (c *Conn) Presence() <-chan collab.Presence { return c.presence }

func (c *Conn) Close() error {
	c.shutdown(collab.ErrConnClosed)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

func (c *Conn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// readLoop routes replies to their waiting request and change events to in.
func (c *Conn) readLoop(in chan<- store.CellRow) {
	defer close(c.presence)
	defer close(in)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		var msg hub.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.shutdown(fmt.Errorf("read: %w", err))
			return
		}
		switch msg.Type {
		case hub.TypeAck, hub.TypeSnapshot, hub.TypeError:
			c.mu.Lock()
			ch, ok := c.waiting[msg.ID]
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
		case hub.TypeCellChanged:
			var row store.CellRow
			if err := json.Unmarshal(msg.Payload, &row); err != nil {
				continue
			}
			select {
			case in <- row:
			case <-c.done:
				return
			}
		case hub.TypePresence:
			var p hub.PresencePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				continue
			}
			select {
			case c.presence <- collab.Presence{Client: p.Client, User: p.User, Addr: cell.Address{Row: p.Row, Col: p.Col}, Left: p.Left}:
			default:
			}
		case hub.TypeSheetRenamed:
			var meta store.SheetMeta
			if err := json.Unmarshal(msg.Payload, &meta); err == nil {
				c.mu.Lock()
				c.meta = meta
				c.mu.Unlock()
			}
		}
	}
}

// forward buffers change events so a slow consumer never stalls replies.
func (c *Conn) forward(in <-chan store.CellRow) {
	defer close(c.changes)
	var queue []store.CellRow
	for {
		var out chan<- store.CellRow
		var next store.CellRow
		if len(queue) > 0 {
			out = c.changes
			next = queue[0]
		}
		select {
		case row, ok := <-in:
			if !ok {
				return
			}
			queue = append(queue, row)
		case out <- next:
			queue = queue[1:]
		}
	}
}

// request sends a message and waits for the reply carrying the same ID.
func (c *Conn) request(ctx context.Context, typ string, v any) (*hub.Message, error) {
	id := uuid.NewString()
	ch := make(chan *hub.Message, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.waiting[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, id)
		c.mu.Unlock()
	}()

	if err := c.send(typ, id, v); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply.Type == hub.TypeError {
			var ep hub.ErrorPayload
			if err := json.Unmarshal(reply.Payload, &ep); err != nil {
				return nil, fmt.Errorf("decode error reply: %w", err)
			}
			return nil, &ep
		}
		return reply, nil
	case <-c.done:
		return nil, c.failure()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send writes one message without waiting for a reply.
func (c *Conn) send(typ, id string, v any) error {
	msg := hub.Message{Type: typ, SheetID: c.Meta().ID, ID: id, User: c.user}
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		msg.Payload = b
	}
	c.writeMu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.ws.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown(fmt.Errorf("write: %w", err))
		return c.failure()
	}
	return nil
}

// SharePresence tells the room which cell this client has selected. The hub
// does not reply.
func (c *Conn) SharePresence(_ context.Context, addr cell.Address) error {
	if err := c.failure(); err != nil {
		return err
	}
	return c.send(hub.TypePresence, "", hub.PresencePayload{Row: addr.Row, Col: addr.Col})
}

func (c *Conn) Upsert(ctx context.Context, row store.CellRow) (store.CellRow, bool, error) {
	reply, err := c.request(ctx, hub.TypeUpsertCell, row)
	if err != nil {
		return store.CellRow{}, false, err
	}
	var ack hub.UpsertAck
	if err := json.Unmarshal(reply.Payload, &ack); err != nil {
		return store.CellRow{}, false, fmt.Errorf("decode ack: %w", err)
	}
	return ack.Row, ack.Applied, nil
}

func (c *Conn) FetchAll(ctx context.Context) ([]store.CellRow, error) {
	reply, err := c.request(ctx, hub.TypeFetchAll, nil)
	if err != nil {
		return nil, err
	}
	var rows []store.CellRow
	if err := json.Unmarshal(reply.Payload, &rows); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return rows, nil
}

// Rename sets the sheet title for every client in the room.
func (c *Conn) Rename(ctx context.Context, title string) (store.SheetMeta, error) {
	reply, err := c.request(ctx, hub.TypeRenameSheet, hub.RenamePayload{Title: title})
	if err != nil {
		return store.SheetMeta{}, err
	}
	var meta store.SheetMeta
	if err := json.Unmarshal(reply.Payload, &meta); err != nil {
		return store.SheetMeta{}, fmt.Errorf("decode ack: %w", err)
	}
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
	return meta, nil
}
