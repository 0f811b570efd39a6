package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.alis.build/alog"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sheets (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	n_rows INTEGER NOT NULL,
	n_cols INTEGER NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cells (
	sheet_id TEXT NOT NULL,
	row_idx INTEGER NOT NULL,
	col_idx INTEGER NOT NULL,
	value TEXT NOT NULL,
	formula TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	editor TEXT NOT NULL,
	PRIMARY KEY (sheet_id, row_idx, col_idx)
) WITHOUT ROWID;
`

// SQLite is a Store backed by a single SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer keeps the read-compare-write of Upsert serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) EnsureSheet(ctx context.Context, meta SheetMeta) (SheetMeta, error) {
	if err := meta.Bounds().Validate(); err != nil {
		return SheetMeta{}, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheets (id, title, n_rows, n_cols, owner, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		meta.ID, meta.Title, meta.Rows, meta.Cols, meta.Owner,
		meta.CreatedAt.UnixNano(), meta.UpdatedAt.UnixNano())
	if err != nil {
		return SheetMeta{}, fmt.Errorf("insert sheet %s: %w", meta.ID, err)
	}
	return s.GetSheet(ctx, meta.ID)
}

func (s *SQLite) GetSheet(ctx context.Context, id string) (SheetMeta, error) {
	return getSheet(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSheet(ctx context.Context, q queryRower, id string) (SheetMeta, error) {
	var m SheetMeta
	var created, updated int64
	err := q.QueryRowContext(ctx,
		"SELECT id, title, n_rows, n_cols, owner, created_at, updated_at FROM sheets WHERE id = ?", id).
		Scan(&m.ID, &m.Title, &m.Rows, &m.Cols, &m.Owner, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return SheetMeta{}, fmt.Errorf("%w: %s", ErrSheetNotFound, id)
	}
	if err != nil {
		return SheetMeta{}, fmt.Errorf("get sheet %s: %w", id, err)
	}
	m.CreatedAt = fromNanos(created)
	m.UpdatedAt = fromNanos(updated)
	return m, nil
}

func (s *SQLite) RenameSheet(ctx context.Context, id, title string, at time.Time) (SheetMeta, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sheets SET title = ?, updated_at = ? WHERE id = ?", title, at.UnixNano(), id)
	if err != nil {
		return SheetMeta{}, fmt.Errorf("rename sheet %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return SheetMeta{}, fmt.Errorf("%w: %s", ErrSheetNotFound, id)
	}
	return s.GetSheet(ctx, id)
}

func (s *SQLite) Upsert(ctx context.Context, row CellRow) (CellRow, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CellRow{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	meta, err := getSheet(ctx, tx, row.SheetID)
	if err != nil {
		return CellRow{}, false, err
	}
	if err := meta.Bounds().Check(row.Addr()); err != nil {
		return CellRow{}, false, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO cells (sheet_id, row_idx, col_idx, value, formula, updated_at, editor)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sheet_id, row_idx, col_idx) DO UPDATE SET
			value = excluded.value,
			formula = excluded.formula,
			updated_at = excluded.updated_at,
			editor = excluded.editor
		WHERE excluded.updated_at >= cells.updated_at`,
		row.SheetID, row.Row, row.Col, row.Value, row.Formula, row.UpdatedAt.UnixNano(), row.User)
	if err != nil {
		return CellRow{}, false, fmt.Errorf("upsert %s!%s: %w", row.SheetID, row.Addr(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CellRow{}, false, err
	}
	if n > 0 {
		if err := tx.Commit(); err != nil {
			return CellRow{}, false, err
		}
		row.UpdatedAt = fromNanos(row.UpdatedAt.UnixNano())
		return row, true, nil
	}

	var cur CellRow
	var updated int64
	err = tx.QueryRowContext(ctx, `
		SELECT sheet_id, row_idx, col_idx, value, formula, updated_at, editor
		FROM cells WHERE sheet_id = ? AND row_idx = ? AND col_idx = ?`,
		row.SheetID, row.Row, row.Col).
		Scan(&cur.SheetID, &cur.Row, &cur.Col, &cur.Value, &cur.Formula, &updated, &cur.User)
	if err != nil {
		return CellRow{}, false, fmt.Errorf("read %s!%s: %w", row.SheetID, row.Addr(), err)
	}
	cur.UpdatedAt = fromNanos(updated)
	alog.Debugf(ctx, "store: upsert %s!%s at %s is stale, kept %s",
		row.SheetID, row.Addr(), row.UpdatedAt.Format(time.RFC3339Nano), cur.UpdatedAt.Format(time.RFC3339Nano))
	return cur, false, nil
}

func (s *SQLite) FetchAll(ctx context.Context, sheetID string) ([]CellRow, error) {
	if _, err := s.GetSheet(ctx, sheetID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sheet_id, row_idx, col_idx, value, formula, updated_at, editor
		FROM cells WHERE sheet_id = ? ORDER BY row_idx, col_idx`, sheetID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", sheetID, err)
	}
	defer rows.Close()

	var out []CellRow
	for rows.Next() {
		var r CellRow
		var updated int64
		if err := rows.Scan(&r.SheetID, &r.Row, &r.Col, &r.Value, &r.Formula, &updated, &r.User); err != nil {
			return nil, err
		}
		r.UpdatedAt = fromNanos(updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }
