package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/collab"
	"github.com/lijuchacko/sheetsync/internal/config"
	"github.com/lijuchacko/sheetsync/internal/hub"
	"github.com/lijuchacko/sheetsync/internal/remote"
	"github.com/lijuchacko/sheetsync/internal/sheet"
	"github.com/lijuchacko/sheetsync/internal/store"
)

func newREPL(t *testing.T) (*repl, *bytes.Buffer, store.Store) {
	t.Helper()
	st := store.NewMemory()
	h := hub.New(st)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(hub.NewServer(h, st, hub.Options{DefaultBounds: cell.Bounds{Rows: 5, Cols: 3}}).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	d := &remote.Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", User: "ann"}
	ctl, err := d.Dial(ctx, "s1")
	require.NoError(t, err)
	t.Cleanup(func() { ctl.Close() })
	sh, err := sheet.New("s1", ctl.Meta().Bounds())
	require.NoError(t, err)
	s := collab.New(sh, d, collab.WithUser("ann"))
	s.Start(ctx)
	t.Cleanup(func() { s.Close() })
	require.Eventually(t, func() bool { return s.State() == collab.Connected }, 2*time.Second, 5*time.Millisecond)

	out := &bytes.Buffer{}
	return &repl{session: s, rename: ctl.Rename, title: func() string { return ctl.Meta().Title }, out: out}, out, st
}

func TestREPL(t *testing.T) {
	r, out, st := newREPL(t)
	ctx := context.Background()

	run := func(line string) string {
		out.Reset()
		quit, err := r.exec(ctx, line)
		require.NoError(t, err, line)
		require.False(t, quit)
		return out.String()
	}

	assert.Equal(t, "A1: 2\n", run("A1 = 2"))
	assert.Equal(t, "A2: 5\n", run("a2 = 5"))
	assert.Equal(t, "B1: 7\n", run("B1 = =SUM(A1:A2)"))
	assert.Equal(t, "7\n", run("B1"))
	assert.Equal(t, "=SUM(A1:A2)\n", run("raw B1"))
	assert.Equal(t, cell.MustParseAddress("B1"), r.session.Selected())

	grid := run("grid")
	assert.Contains(t, grid, "A")
	assert.Contains(t, grid, "7")

	assert.Equal(t, "renamed to \"Budget\"\n", run("rename Budget"))
	meta, err := st.GetSheet(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Budget", meta.Title)

	require.Eventually(t, func() bool { return r.session.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, run("state"), "connected, 0 pending")
	assert.Equal(t, "nobody else is here\n", run("who"))

	quit, err := r.exec(ctx, "quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestREPLErrors(t *testing.T) {
	r, out, _ := newREPL(t)
	ctx := context.Background()

	for _, line := range []string{"hello", "raw", "Z99 = 1", "rename"} {
		_, err := r.exec(ctx, line)
		assert.Error(t, err, line)
	}

	out.Reset()
	_, err := r.exec(ctx, "A1 = =A1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular reference")
	assert.Equal(t, "A1: #REF\n", out.String())
}

func TestREPLRun(t *testing.T) {
	r, out, _ := newREPL(t)
	err := r.run(context.Background(), strings.NewReader("A1 = 4\nbogus\nA1\nquit\nA2 = 9\n"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "A1: 4")
	assert.Contains(t, out.String(), "error: unknown command")
	assert.NotContains(t, out.String(), "A2: 9")
}

func TestExportImport(t *testing.T) {
	cfg = config.Default()
	cfg.User = "importer"
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	src := store.NewMemory()
	_, err := src.EnsureSheet(ctx, store.SheetMeta{ID: "s1", Title: "Budget", Rows: 10, Cols: 5})
	require.NoError(t, err)
	for _, row := range []store.CellRow{
		store.NewCellRow("s1", cell.MustParseAddress("A1"), "1", "1", at, "ann"),
		store.NewCellRow("s1", cell.MustParseAddress("A2"), "2", "2", at, "ann"),
		store.NewCellRow("s1", cell.MustParseAddress("A3"), "=A1+A2", "3", at, "ann"),
	} {
		_, _, err := src.Upsert(ctx, row)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "budget.xlsx")
	require.NoError(t, exportSheet(ctx, src, "s1", path))
	assert.Error(t, exportSheet(ctx, src, "missing", path))

	dst := store.NewMemory()
	n, err := importSheet(ctx, dst, "copy", path, at.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := dst.FetchAll(ctx, "copy")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "=A1+A2", rows[2].Raw())
	assert.Equal(t, "importer", rows[2].User)

	meta, err := dst.GetSheet(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, cfg.Bounds(), meta.Bounds())
}
