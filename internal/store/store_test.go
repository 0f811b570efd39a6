package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sq, err := OpenSQLite(filepath.Join(dir, "cells.db"))
	require.NoError(t, err)
	js, err := OpenDir(filepath.Join(dir, "data"))
	require.NoError(t, err)
	out := map[string]Store{"sqlite": sq, "json": js, "memory": NewMemory()}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func meta(id string) SheetMeta {
	return SheetMeta{ID: id, Title: "Budget", Rows: 10, Cols: 5, Owner: "ann", CreatedAt: t0, UpdatedAt: t0}
}

func row(addr, raw string, at time.Time) CellRow {
	return NewCellRow("s1", cell.MustParseAddress(addr), raw, "", at, "ann")
}

func TestStores(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("EnsureSheetIsIdempotent", func(t *testing.T) {
				m, err := s.EnsureSheet(ctx, meta("s1"))
				require.NoError(t, err)
				assert.Equal(t, meta("s1"), m)

				other := meta("s1")
				other.Title = "ignored"
				m, err = s.EnsureSheet(ctx, other)
				require.NoError(t, err)
				assert.Equal(t, "Budget", m.Title)
			})

			t.Run("GetAndRename", func(t *testing.T) {
				_, err := s.GetSheet(ctx, "missing")
				assert.ErrorIs(t, err, ErrSheetNotFound)

				m, err := s.RenameSheet(ctx, "s1", "Q3", t0.Add(time.Hour))
				require.NoError(t, err)
				assert.Equal(t, "Q3", m.Title)
				assert.Equal(t, t0.Add(time.Hour), m.UpdatedAt)

				_, err = s.RenameSheet(ctx, "missing", "x", t0)
				assert.ErrorIs(t, err, ErrSheetNotFound)
			})

			t.Run("UpsertLastWriterWins", func(t *testing.T) {
				got, applied, err := s.Upsert(ctx, row("A1", "1", t0.Add(2*time.Second)))
				require.NoError(t, err)
				assert.True(t, applied)
				assert.Equal(t, "1", got.Raw())

				got, applied, err = s.Upsert(ctx, row("A1", "old", t0.Add(time.Second)))
				require.NoError(t, err)
				assert.False(t, applied)
				assert.Equal(t, "1", got.Raw())
				assert.Equal(t, t0.Add(2*time.Second), got.UpdatedAt)

				_, applied, err = s.Upsert(ctx, row("A1", "tie", t0.Add(2*time.Second)))
				require.NoError(t, err)
				assert.True(t, applied, "ties go to the incoming row")

				f := NewCellRow("s1", cell.MustParseAddress("B2"), "=A1*2", "0", t0.Add(3*time.Second), "bob")
				_, applied, err = s.Upsert(ctx, f)
				require.NoError(t, err)
				assert.True(t, applied)
			})

			t.Run("UpsertValidates", func(t *testing.T) {
				_, _, err := s.Upsert(ctx, CellRow{SheetID: "nope", UpdatedAt: t0})
				assert.ErrorIs(t, err, ErrSheetNotFound)

				var rangeErr *cell.RangeError
				_, _, err = s.Upsert(ctx, CellRow{SheetID: "s1", Row: 10, Col: 0, Value: "x", UpdatedAt: t0})
				assert.ErrorAs(t, err, &rangeErr)
			})

			t.Run("FetchAllIncludesDeletions", func(t *testing.T) {
				_, _, err := s.Upsert(ctx, row("C1", "", t0.Add(4*time.Second)))
				require.NoError(t, err)

				rows, err := s.FetchAll(ctx, "s1")
				require.NoError(t, err)
				require.Len(t, rows, 3)
				assert.Equal(t, "A1", rows[0].Addr().String())
				assert.Equal(t, "tie", rows[0].Raw())
				assert.Equal(t, "C1", rows[1].Addr().String())
				assert.True(t, rows[1].Deleted())
				assert.Equal(t, "B2", rows[2].Addr().String())
				assert.Equal(t, "=A1*2", rows[2].Raw())
				assert.Equal(t, "bob", rows[2].User)

				_, err = s.FetchAll(ctx, "missing")
				assert.ErrorIs(t, err, ErrSheetNotFound)
			})
		})
	}
}

func TestJSONDirSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := OpenDir(dir)
	require.NoError(t, err)
	_, err = m.EnsureSheet(ctx, meta("s1"))
	require.NoError(t, err)
	_, _, err = m.Upsert(ctx, row("B3", "=SUM(A1:A2)", t0))
	require.NoError(t, err)

	again, err := OpenDir(dir)
	require.NoError(t, err)
	got, err := again.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Budget", got.Title)
	rows, err := again.FetchAll(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "=SUM(A1:A2)", rows[0].Raw())
	assert.True(t, rows[0].UpdatedAt.Equal(t0))
}

func TestJSONDirFailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := OpenDir(dir)
	require.NoError(t, err)
	_, err = m.EnsureSheet(ctx, meta("s1"))
	require.NoError(t, err)
	_, _, err = m.Upsert(ctx, row("A1", "kept", t0))
	require.NoError(t, err)

	// A non-empty directory where the sheet file belongs makes the rename fail.
	path := filepath.Join(dir, "s1.json")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o755))

	got, applied, err := m.Upsert(ctx, row("A1", "lost", t0.Add(time.Minute)))
	require.Error(t, err)
	assert.False(t, applied)
	assert.Empty(t, got.Raw())
	_, _, err = m.Upsert(ctx, row("B2", "new", t0.Add(time.Minute)))
	require.Error(t, err)

	rows, err := m.FetchAll(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0].Raw())

	_, err = m.RenameSheet(ctx, "s1", "Other", t0.Add(time.Hour))
	require.Error(t, err)
	got2, err := m.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Budget", got2.Title)

	_, err = os.Stat(path + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cells.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.EnsureSheet(ctx, meta("s1"))
	require.NoError(t, err)
	_, _, err = s.Upsert(ctx, row("A1", "hello", t0))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	rows, err := s.FetchAll(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0].Value)
}

func TestOpenUnknownKind(t *testing.T) {
	_, err := Open("redis", "")
	assert.Error(t, err)
}
