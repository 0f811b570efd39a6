// Package store persists cell rows and sheet metadata for the hub.
//
// Both implementations resolve concurrent writers the same way: a row is
// replaced only by one whose UpdatedAt is not older than the stored one, so
// every replica that replays the same rows converges.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/formula"
)

var ErrSheetNotFound = errors.New("sheet not found")

// CellRow is the durable form of one cell. Formula holds the raw input of a
// formula cell and Value its last displayed result; literal cells carry their
// raw input in Value. A row with both empty is a deletion.
type CellRow struct {
	SheetID   string    `json:"sheet_id"`
	Row       int       `json:"row"`
	Col       int       `json:"col"`
	Value     string    `json:"value"`
	Formula   string    `json:"formula,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	User      string    `json:"user,omitempty"`
}

// NewCellRow builds the row for raw input at addr.
func NewCellRow(sheetID string, addr cell.Address, raw, display string, at time.Time, user string) CellRow {
	r := CellRow{SheetID: sheetID, Row: addr.Row, Col: addr.Col, UpdatedAt: at, User: user}
	if formula.IsFormula(raw) {
		r.Formula = raw
		r.Value = display
	} else {
		r.Value = raw
	}
	return r
}

func (r CellRow) Addr() cell.Address { return cell.Address{Row: r.Row, Col: r.Col} }

// Raw is the text the user typed.
func (r CellRow) Raw() string {
	if r.Formula != "" {
		return r.Formula
	}
	return r.Value
}

func (r CellRow) Deleted() bool { return r.Value == "" && r.Formula == "" }

// SheetMeta describes a sheet. Rows and Cols are fixed at creation.
type SheetMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	Owner     string    `json:"owner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m SheetMeta) Bounds() cell.Bounds { return cell.Bounds{Rows: m.Rows, Cols: m.Cols} }

// Store is durable cell persistence keyed by (sheet, row, col).
type Store interface {
	// EnsureSheet creates meta if no sheet with its ID exists and returns the
	// stored metadata either way.
	EnsureSheet(ctx context.Context, meta SheetMeta) (SheetMeta, error)
	GetSheet(ctx context.Context, id string) (SheetMeta, error)
	RenameSheet(ctx context.Context, id, title string, at time.Time) (SheetMeta, error)

	// Upsert writes row unless the stored row is newer. It returns the row
	// now stored and whether the write was applied.
	Upsert(ctx context.Context, row CellRow) (CellRow, bool, error)
	// FetchAll returns every row of a sheet, deletions included, row-major.
	FetchAll(ctx context.Context, sheetID string) ([]CellRow, error)

	Close() error
}

func sortRows(rows []CellRow) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Addr().Less(rows[j].Addr())
	})
}

// Open returns the store of the given kind: "sqlite" (path is the database
// file), "json" (path is the data directory) or "memory".
func Open(kind, path string) (Store, error) {
	switch kind {
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "json":
		m, err := OpenDir(path)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
