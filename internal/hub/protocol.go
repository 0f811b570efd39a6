package hub

import (
	"encoding/json"
	"errors"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/store"
)

// Message defines the structure of data exchanged via WebSocket. Requests
// carry an ID that the server echoes on its ACK, SNAPSHOT or ERROR reply.
type Message struct {
	Type    string          `json:"type"`
	SheetID string          `json:"sheet_id"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	User    string          `json:"user,omitempty"` // Username of the sender
}

// Client to server.
const (
	TypeUpsertCell  = "UPSERT_CELL"  // payload store.CellRow
	TypeFetchAll    = "FETCH_ALL"    // no payload
	TypeRenameSheet = "RENAME_SHEET" // payload RenamePayload
)

// TypePresence goes both ways: a client reports its selected cell (no
// reply), and the hub relays it to the rest of the room with Client and
// User filled in. Left is set when a client disconnects.
const TypePresence = "PRESENCE" // payload PresencePayload

// Server to client.
const (
	TypeInit         = "INIT"          // payload store.SheetMeta, sent on join
	TypeAck          = "ACK"           // payload UpsertAck or store.SheetMeta
	TypeSnapshot     = "SNAPSHOT"      // payload []store.CellRow
	TypeError        = "ERROR"         // payload ErrorPayload
	TypeCellChanged  = "CELL_CHANGED"  // payload store.CellRow, to the whole room
	TypeSheetRenamed = "SHEET_RENAMED" // payload store.SheetMeta, to the whole room
)

type UpsertAck struct {
	Row     store.CellRow `json:"row"`
	Applied bool          `json:"applied"`
}

type RenamePayload struct {
	Title string `json:"title"`
}

type PresencePayload struct {
	Client string `json:"client,omitempty"`
	User   string `json:"user,omitempty"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Left   bool   `json:"left,omitempty"`
}

// Error codes carried in ErrorPayload.
const (
	CodeBadRequest = "bad_request"
	CodeNotFound   = "not_found"
	CodeOutOfRange = "out_of_range"
	CodeInternal   = "internal"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorPayload) Error() string { return e.Code + ": " + e.Message }

func errorPayload(err error) ErrorPayload {
	var rangeErr *cell.RangeError
	switch {
	case errors.Is(err, store.ErrSheetNotFound):
		return ErrorPayload{Code: CodeNotFound, Message: err.Error()}
	case errors.As(err, &rangeErr):
		return ErrorPayload{Code: CodeOutOfRange, Message: err.Error()}
	default:
		return ErrorPayload{Code: CodeInternal, Message: err.Error()}
	}
}

func msgToBytes(msg *Message) []byte {
	b, _ := json.Marshal(msg)
	return b
}

func payload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
