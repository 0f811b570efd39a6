package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/store"
)

// ErrConnClosed is reported when a change feed ends without a cause.
var ErrConnClosed = errors.New("connection closed")

// Conn is one live connection to the backend for a single sheet.
type Conn interface {
	// Meta is the sheet metadata the backend announced on join.
	Meta() store.SheetMeta
	// Upsert persists row. The backend returns the row it now holds and
	// whether row won; when it did, the change is broadcast to the room.
	Upsert(ctx context.Context, row store.CellRow) (store.CellRow, bool, error)
	FetchAll(ctx context.Context) ([]store.CellRow, error)
	// Changes delivers rows other writers (and this one) applied. It is
	// closed when the connection drops.
	Changes() <-chan store.CellRow
	Close() error
}

// Presence is where another client of the sheet has its cursor. Left marks
// a client that disconnected.
type Presence struct {
	Client string
	User   string
	Addr   cell.Address
	Left   bool
}

// PresenceConn is implemented by connections that share selected cells
// with the rest of the room.
type PresenceConn interface {
	SharePresence(ctx context.Context, addr cell.Address) error
	// Presence delivers other clients' positions. It is closed with the
	// connection.
	Presence() <-chan Presence
}

// Transport opens connections to the backend.
type Transport interface {
	Connect(ctx context.Context, sheetID string) (Conn, error)
}

// TransportError wraps a connection failure. It never reaches callers of
// SubmitEdit; it only moves the session back to Connecting.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }
