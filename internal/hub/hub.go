// Package hub is the real-time backend: websocket rooms per sheet over a
// durable store. Every request is handled on the hub goroutine, so writes to
// a sheet are applied and broadcast in one order.
package hub

import (
	"context"
	"encoding/json"
	"time"

	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/store"
)

type request struct {
	client *Client
	msg    *Message
}

// Hub maintains the set of active clients and broadcasts messages to the clients.
type Hub struct {
	store store.Store
	now   func() time.Time

	// Registered clients per sheet.
	rooms map[string]map[*Client]bool

	// Inbound requests from the clients.
	requests chan request

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when Run returns.
	done chan struct{}
}

func New(st store.Store) *Hub {
	return &Hub{
		store:      st,
		now:        time.Now,
		requests:   make(chan request),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
			}
			h.rooms = make(map[string]map[*Client]bool)
			return

		case client := <-h.register:
			if h.rooms[client.sheetID] == nil {
				h.rooms[client.sheetID] = make(map[*Client]bool)
			}
			h.rooms[client.sheetID][client] = true
			alog.Infof(ctx, "hub: client %s (%s) registered to sheet %s", client.id, client.userID, client.sheetID)

			h.deliver(client, &Message{
				Type:    TypeInit,
				SheetID: client.sheetID,
				Payload: payload(client.meta),
				User:    "system",
			})

		case client := <-h.unregister:
			if clients, ok := h.rooms[client.sheetID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.rooms, client.sheetID)
					}
					alog.Infof(ctx, "hub: client %s unregistered from sheet %s", client.id, client.sheetID)
					h.broadcastOthers(&Message{
						Type:    TypePresence,
						SheetID: client.sheetID,
						Payload: payload(PresencePayload{Client: client.id, User: client.userID, Left: true}),
						User:    client.userID,
					}, client)
				}
			}

		case req := <-h.requests:
			h.handle(ctx, req.client, req.msg)
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, msg *Message) {
	if _, ok := h.rooms[c.sheetID][c]; !ok {
		return
	}
	switch msg.Type {
	case TypeUpsertCell:
		var row store.CellRow
		if err := json.Unmarshal(msg.Payload, &row); err != nil {
			alog.Warnf(ctx, "hub: decode upsert from %s: %v", c.id, err)
			h.fail(c, msg, ErrorPayload{Code: CodeBadRequest, Message: err.Error()})
			return
		}
		row.SheetID = c.sheetID
		if row.User == "" {
			row.User = c.userID
		}
		got, applied, err := h.store.Upsert(ctx, row)
		if err != nil {
			alog.Warnf(ctx, "hub: upsert %s!%s: %v", c.sheetID, row.Addr(), err)
			h.fail(c, msg, errorPayload(err))
			return
		}
		h.reply(c, msg, TypeAck, UpsertAck{Row: got, Applied: applied})
		if applied {
			alog.Debugf(ctx, "hub: sheet %s: %s set %s", c.sheetID, row.User, row.Addr())
			h.broadcast(&Message{Type: TypeCellChanged, SheetID: c.sheetID, Payload: payload(got), User: row.User})
		}

	case TypeFetchAll:
		rows, err := h.store.FetchAll(ctx, c.sheetID)
		if err != nil {
			h.fail(c, msg, errorPayload(err))
			return
		}
		if rows == nil {
			rows = []store.CellRow{}
		}
		h.reply(c, msg, TypeSnapshot, rows)

	case TypeRenameSheet:
		var rn RenamePayload
		if err := json.Unmarshal(msg.Payload, &rn); err != nil || rn.Title == "" {
			h.fail(c, msg, ErrorPayload{Code: CodeBadRequest, Message: "title required"})
			return
		}
		meta, err := h.store.RenameSheet(ctx, c.sheetID, rn.Title, h.now().UTC())
		if err != nil {
			h.fail(c, msg, errorPayload(err))
			return
		}
		h.reply(c, msg, TypeAck, meta)
		h.broadcast(&Message{Type: TypeSheetRenamed, SheetID: c.sheetID, Payload: payload(meta), User: c.userID})

	case TypePresence:
		var p PresencePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			h.fail(c, msg, ErrorPayload{Code: CodeBadRequest, Message: err.Error()})
			return
		}
		addr := cell.Address{Row: p.Row, Col: p.Col}
		if err := c.meta.Bounds().Check(addr); err != nil {
			h.fail(c, msg, errorPayload(err))
			return
		}
		h.broadcastOthers(&Message{
			Type:    TypePresence,
			SheetID: c.sheetID,
			Payload: payload(PresencePayload{Client: c.id, User: c.userID, Row: p.Row, Col: p.Col}),
			User:    c.userID,
		}, c)

	default:
		h.fail(c, msg, ErrorPayload{Code: CodeBadRequest, Message: "unknown message type " + msg.Type})
	}
}

func (h *Hub) reply(c *Client, req *Message, typ string, v any) {
	h.deliver(c, &Message{Type: typ, SheetID: c.sheetID, ID: req.ID, Payload: payload(v), User: "system"})
}

func (h *Hub) fail(c *Client, req *Message, e ErrorPayload) {
	h.reply(c, req, TypeError, e)
}

// deliver queues msg for one client. A client whose buffer is full is
// dropped from its room.
func (h *Hub) deliver(c *Client, msg *Message) {
	select {
	case c.send <- msgToBytes(msg):
	default:
		if clients, ok := h.rooms[c.sheetID]; ok {
			if _, ok := clients[c]; ok {
				close(c.send)
				delete(clients, c)
			}
		}
	}
}

// broadcast sends msg to every client in its sheet's room, sender included.
func (h *Hub) broadcast(msg *Message) {
	h.broadcastOthers(msg, nil)
}

func (h *Hub) broadcastOthers(msg *Message, except *Client) {
	for client := range h.rooms[msg.SheetID] {
		if client != except {
			h.deliver(client, msg)
		}
	}
}
