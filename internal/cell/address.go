package cell

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Address is a zero-based (row, column) coordinate within a sheet.
type Address struct {
	Row int
	Col int
}

// ParseAddress parses an A1-style reference such as "C12" or "$c$12".
func ParseAddress(s string) (Address, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "$", ""))
	col, row, err := excelize.CellNameToCoordinates(name)
	if err != nil {
		return Address{}, fmt.Errorf("parse address %q: %w", s, err)
	}
	return Address{Row: row - 1, Col: col - 1}, nil
}

// MustParseAddress is ParseAddress for fixed references in tests and tables.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the address as column letters followed by the 1-based row.
func (a Address) String() string {
	col, err := ColumnName(a.Col)
	if err != nil || a.Row < 0 {
		return fmt.Sprintf("R%dC%d", a.Row, a.Col)
	}
	return col + strconv.Itoa(a.Row+1)
}

// Less orders addresses row-major.
func (a Address) Less(b Address) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}

// ColumnName renders a zero-based column index as letters (0 -> A, 26 -> AA).
func ColumnName(col int) (string, error) {
	return excelize.ColumnNumberToName(col + 1)
}

// Bounds are the fixed dimensions of a sheet, set at creation.
type Bounds struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Contains reports whether a lies inside the sheet.
func (b Bounds) Contains(a Address) bool {
	return a.Row >= 0 && a.Col >= 0 && a.Row < b.Rows && a.Col < b.Cols
}

// Check returns a *RangeError when a lies outside the sheet.
func (b Bounds) Check(a Address) error {
	if b.Contains(a) {
		return nil
	}
	return &RangeError{Addr: a, Bounds: b}
}

// Validate rejects empty sheets and sheets too large to key by uint32.
func (b Bounds) Validate() error {
	if b.Rows <= 0 || b.Cols <= 0 {
		return fmt.Errorf("bounds %dx%d: %w", b.Rows, b.Cols, ErrInvalidBounds)
	}
	if b.Cols > excelize.MaxColumns || uint64(b.Rows)*uint64(b.Cols) > 1<<32-1 {
		return fmt.Errorf("bounds %dx%d too large: %w", b.Rows, b.Cols, ErrInvalidBounds)
	}
	return nil
}

// Key packs a in-bounds address into a dense uint32 index.
func (b Bounds) Key(a Address) uint32 {
	return uint32(a.Row*b.Cols + a.Col)
}

// Addr is the inverse of Key.
func (b Bounds) Addr(key uint32) Address {
	return Address{Row: int(key) / b.Cols, Col: int(key) % b.Cols}
}

// Range is a rectangular block of cells. Start is always the top-left corner.
type Range struct {
	Start Address
	End   Address
}

// NewRange normalizes two corners into a Range.
func NewRange(a, b Address) Range {
	return Range{
		Start: Address{Row: min(a.Row, b.Row), Col: min(a.Col, b.Col)},
		End:   Address{Row: max(a.Row, b.Row), Col: max(a.Col, b.Col)},
	}
}

// ParseRange parses "A1:B3".
func ParseRange(s string) (Range, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok {
		return Range{}, fmt.Errorf("parse range %q: missing ':'", s)
	}
	a, err := ParseAddress(from)
	if err != nil {
		return Range{}, err
	}
	b, err := ParseAddress(to)
	if err != nil {
		return Range{}, err
	}
	return NewRange(a, b), nil
}

func (r Range) String() string {
	return r.Start.String() + ":" + r.End.String()
}

// Contains reports whether a is inside the range.
func (r Range) Contains(a Address) bool {
	return a.Row >= r.Start.Row && a.Row <= r.End.Row && a.Col >= r.Start.Col && a.Col <= r.End.Col
}

// Within reports whether the whole range lies inside b.
func (r Range) Within(b Bounds) bool {
	return b.Contains(r.Start) && b.Contains(r.End)
}

// Each visits the cells of r row-major, clipped to b. Returning false stops.
func (r Range) Each(b Bounds, fn func(Address) bool) {
	for row := max(r.Start.Row, 0); row <= min(r.End.Row, b.Rows-1); row++ {
		for col := max(r.Start.Col, 0); col <= min(r.End.Col, b.Cols-1); col++ {
			if !fn(Address{Row: row, Col: col}) {
				return
			}
		}
	}
}
