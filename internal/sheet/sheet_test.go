package sheet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/depgraph"
)

var at = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newSheet(t *testing.T) *Sheet {
	t.Helper()
	s, err := New("s1", cell.Bounds{Rows: 100, Cols: 26}, WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	return s
}

func set(t *testing.T, s *Sheet, name, raw string) {
	t.Helper()
	require.NoError(t, s.SetRaw(cell.MustParseAddress(name), raw))
}

func display(s *Sheet, name string) string {
	return s.DisplayValue(cell.MustParseAddress(name))
}

func TestNewRejectsBadBounds(t *testing.T) {
	_, err := New("s", cell.Bounds{Rows: 0, Cols: 5})
	assert.ErrorIs(t, err, cell.ErrInvalidBounds)
}

func TestLiteralRoundTrip(t *testing.T) {
	s := newSheet(t)
	for _, raw := range []string{"hello", "007", "3.50", " padded ", "1e3"} {
		set(t, s, "C3", raw)
		assert.Equal(t, raw, s.RawInput(cell.MustParseAddress("C3")))
		assert.Equal(t, raw, display(s, "C3"))
	}
	rec := s.Get(cell.MustParseAddress("C3"))
	assert.Equal(t, KindLiteral, rec.Kind)
	assert.Equal(t, cell.Number(1000), rec.Computed)
	assert.Equal(t, at, rec.UpdatedAt)
}

func TestFormulaDisplay(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", "1")
	set(t, s, "A2", "2")
	set(t, s, "B1", "=SUM(A1:A3)")
	set(t, s, "B2", "=AVERAGE(A1:A3)")

	assert.Equal(t, "3", display(s, "B1"))
	assert.Equal(t, "1.5", display(s, "B2"))
	assert.Equal(t, "=SUM(A1:A3)", s.RawInput(cell.MustParseAddress("B1")))
	assert.Equal(t, KindFormula, s.Get(cell.MustParseAddress("B1")).Kind)
}

func TestDependentsRecomputeProactively(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", "2")
	set(t, s, "B1", "=A1*2")
	set(t, s, "C1", "=B1+A1")
	assert.Equal(t, "4", display(s, "B1"))
	assert.Equal(t, "6", display(s, "C1"))

	set(t, s, "A1", "3")
	assert.Equal(t, "6", display(s, "B1"))
	assert.Equal(t, "9", display(s, "C1"))
}

func TestDeletedReferenceReadsAsZero(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", "5")
	set(t, s, "B1", "=A1")
	assert.Equal(t, "5", display(s, "B1"))

	require.NoError(t, s.Delete(cell.MustParseAddress("A1")))
	assert.Equal(t, "", display(s, "A1"))
	assert.Equal(t, "0", display(s, "B1"))
	assert.Len(t, s.Cells(), 1)
}

func TestCycleFlagsBothCells(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", "=B1+1")
	assert.Equal(t, "1", display(s, "A1"))

	err := s.SetRaw(cell.MustParseAddress("B1"), "=A1")
	var cyc *depgraph.CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, "=A1", s.RawInput(cell.MustParseAddress("B1")))
	assert.Equal(t, "#REF", display(s, "B1"))
	assert.Equal(t, "#REF", display(s, "A1"))
	assert.True(t, s.Cyclic(cell.MustParseAddress("B1")))

	// Breaking the loop at the rejected cell restores both.
	set(t, s, "B1", "4")
	assert.False(t, s.Cyclic(cell.MustParseAddress("B1")))
	assert.Equal(t, "5", display(s, "A1"))
}

func TestSelfReference(t *testing.T) {
	s := newSheet(t)
	err := s.SetRaw(cell.MustParseAddress("A1"), "=A1+1")
	var cyc *depgraph.CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, "#REF", display(s, "A1"))
}

func TestParseErrorIsStored(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", "=1+")
	set(t, s, "B1", "=A1*2")
	assert.Equal(t, "=1+", s.RawInput(cell.MustParseAddress("A1")))
	assert.Equal(t, "#PARSE", display(s, "A1"))
	assert.Equal(t, "#PARSE", display(s, "B1"))

	set(t, s, "A1", "=2")
	assert.Equal(t, "4", display(s, "B1"))
}

func TestUnterminatedStringIsParseError(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", `="abc`)
	set(t, s, "A2", `="a"&"b`)
	assert.Equal(t, "#PARSE", display(s, "A1"))
	assert.Equal(t, "#PARSE", display(s, "A2"))
}

func TestAggregatesOverLargeValues(t *testing.T) {
	s, err := New("small", cell.Bounds{Rows: 10, Cols: 3})
	require.NoError(t, err)
	set(t, s, "A1", "1e308")
	set(t, s, "A2", "1e308")
	set(t, s, "B1", "=SUM(A1:A2)")
	set(t, s, "B2", "=AVERAGE(A1:A2)")
	set(t, s, "B3", "=COUNT(A1:A50)")
	set(t, s, "B4", "=SUM(A1:A50)")
	set(t, s, "B5", "=COUNT(A1:A10)")
	assert.Equal(t, "#VALUE", display(s, "B1"))
	assert.Equal(t, "1E+308", display(s, "B2"))
	assert.Equal(t, "#REF", display(s, "B3"))
	assert.Equal(t, "#REF", display(s, "B4"))
	assert.Equal(t, "2", display(s, "B5"))
}

func TestOutOfBoundsIsRejected(t *testing.T) {
	s := newSheet(t)
	var rangeErr *cell.RangeError
	err := s.SetRaw(cell.Address{Row: 100, Col: 0}, "x")
	require.ErrorAs(t, err, &rangeErr)

	err = s.Apply(
		Edit{Addr: cell.MustParseAddress("A1"), Raw: "1", At: at},
		Edit{Addr: cell.Address{Row: 0, Col: 26}, Raw: "2", At: at},
	)
	require.ErrorAs(t, err, &rangeErr)
	assert.Empty(t, s.Cells(), "a failed batch writes nothing")
}

func TestReferenceOutsideSheetIsRefError(t *testing.T) {
	s, err := New("small", cell.Bounds{Rows: 3, Cols: 3})
	require.NoError(t, err)
	require.NoError(t, s.SetRaw(cell.MustParseAddress("A1"), "=Z99"))
	assert.Equal(t, "#REF", s.DisplayValue(cell.MustParseAddress("A1")))
}

func TestApplyBatchRecalculatesOnce(t *testing.T) {
	s := newSheet(t)
	set(t, s, "C1", "=A1+B1")
	before := s.Stats()

	require.NoError(t, s.Apply(
		Edit{Addr: cell.MustParseAddress("A1"), Raw: "1", At: at, User: "ann"},
		Edit{Addr: cell.MustParseAddress("B1"), Raw: "2", At: at, User: "bob"},
	))
	assert.Equal(t, "3", display(s, "C1"))
	after := s.Stats()
	assert.Equal(t, before.Passes+1, after.Passes)
	assert.Equal(t, before.Evaluated+1, after.Evaluated)
	assert.Equal(t, "bob", s.Get(cell.MustParseAddress("B1")).User)
}

func TestRecalculateIsIdempotent(t *testing.T) {
	s := newSheet(t)
	set(t, s, "A1", "0.1")
	set(t, s, "A2", "0.2")
	set(t, s, "A3", "=SUM(A1:A2)/3")
	want := display(s, "A3")
	for i := 0; i < 5; i++ {
		s.Recalculate()
		assert.Equal(t, want, display(s, "A3"))
	}
}

func TestCellsAreRowMajor(t *testing.T) {
	s := newSheet(t)
	set(t, s, "B2", "x")
	set(t, s, "A2", "y")
	set(t, s, "C1", "z")
	var got []string
	for _, rec := range s.Cells() {
		got = append(got, rec.Addr.String())
	}
	assert.Equal(t, []string{"C1", "A2", "B2"}, got)
}

func TestAuditLog(t *testing.T) {
	s, err := New("s1", cell.Bounds{Rows: 10, Cols: 10}, WithAuditLimit(3))
	require.NoError(t, err)
	a1 := cell.MustParseAddress("A1")
	require.NoError(t, s.Apply(Edit{Addr: a1, Raw: "1", At: at, User: "ann"}))
	require.NoError(t, s.Apply(Edit{Addr: a1, Raw: "2", At: at, User: "ann"}))
	require.NoError(t, s.Apply(Edit{Addr: a1, Raw: "", At: at, User: "bob"}))

	log := s.Audit()
	require.Len(t, log, 3)
	assert.Equal(t, "EDIT_CELL", log[0].Action)
	assert.Equal(t, "Set cell A1 to 1", log[0].Details)
	assert.Equal(t, "Changed cell A1 from 1 to 2", log[1].Details)
	assert.Equal(t, "CLEAR_CELL", log[2].Action)
	assert.Equal(t, "bob", log[2].User)

	_ = s.Apply(Edit{Addr: a1, Raw: "=A1", At: at, User: "bob"})
	log = s.Audit()
	require.Len(t, log, 3)
	assert.Equal(t, "EDIT_REJECTED", log[2].Action)
}
