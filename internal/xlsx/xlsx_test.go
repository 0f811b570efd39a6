package xlsx

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/store"
)

var at = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func row(addr, raw, display string) store.CellRow {
	return store.NewCellRow("s1", cell.MustParseAddress(addr), raw, display, at, "ann")
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Q3_Budget", SheetName("Q3/Budget"))
	assert.Equal(t, "Sheet1", SheetName("  "))
	assert.Len(t, []rune(SheetName("a very long sheet title that keeps going")), 31)
}

func TestExportImportRoundTrip(t *testing.T) {
	meta := store.SheetMeta{ID: "s1", Title: "Q3/Budget", Rows: 20, Cols: 5}
	rows := []store.CellRow{
		row("A1", "007", ""),
		row("A2", "3", ""),
		row("B1", "label", ""),
		row("A3", "=SUM(A1:A2)", "10"),
		row("C2", "", ""),
	}
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, meta, rows))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"Q3_Budget"}, f.GetSheetList())
	formula, err := f.GetCellFormula("Q3_Budget", "A3")
	require.NoError(t, err)
	assert.Equal(t, "SUM(A1:A2)", formula)
	require.NoError(t, f.Close())

	got, err := Import(bytes.NewReader(buf.Bytes()), meta, at, "bob")
	require.NoError(t, err)
	raws := make(map[string]string)
	for _, r := range got {
		raws[r.Addr().String()] = r.Raw()
		assert.Equal(t, "bob", r.User)
		assert.Equal(t, "s1", r.SheetID)
	}
	assert.Equal(t, map[string]string{
		"A1": "007",
		"A2": "3",
		"B1": "label",
		"A3": "=SUM(A1:A2)",
	}, raws)
}

func TestImportOutOfBounds(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellStr("Sheet1", "F9", "far"))
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	_, err = Import(&buf, store.SheetMeta{ID: "s1", Rows: 5, Cols: 5}, at, "")
	var rangeErr *cell.RangeError
	require.ErrorAs(t, err, &rangeErr)
}
