package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.alis.build/alog"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

// sheetFile is the on-disk layout of one sheet under the data directory.
type sheetFile struct {
	Meta  SheetMeta `json:"meta"`
	Cells []CellRow `json:"cells"`
}

type memSheet struct {
	meta  SheetMeta
	cells map[cell.Address]CellRow
}

// Memory keeps everything in process. With a non-empty dir every sheet is
// also written to dir/<id>.json after each change and reloaded on open.
type Memory struct {
	dir    string
	mu     sync.RWMutex
	sheets map[string]*memSheet
}

// NewMemory returns a store with no backing files.
func NewMemory() *Memory {
	return &Memory{sheets: make(map[string]*memSheet)}
}

// OpenDir returns a Memory store persisted as JSON files in dir.
func OpenDir(dir string) (*Memory, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	m := &Memory{dir: dir, sheets: make(map[string]*memSheet)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var f sheetFile
		if err := json.Unmarshal(data, &f); err != nil {
			alog.Warnf(context.Background(), "store: skipping %s: %v", path, err)
			continue
		}
		sh := &memSheet{meta: f.Meta, cells: make(map[cell.Address]CellRow, len(f.Cells))}
		for _, r := range f.Cells {
			sh.cells[r.Addr()] = r
		}
		m.sheets[f.Meta.ID] = sh
	}
	return m, nil
}

func (m *Memory) Close() error { return nil }

// saveLocked must be called with m.mu held.
func (m *Memory) saveLocked(sh *memSheet) error {
	if m.dir == "" {
		return nil
	}
	f := sheetFile{Meta: sh.meta, Cells: make([]CellRow, 0, len(sh.cells))}
	for _, r := range sh.cells {
		f.Cells = append(f.Cells, r)
	}
	sortRows(f.Cells)

	path := filepath.Join(m.dir, sh.meta.ID+".json")
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("save sheet %s: %w", sh.meta.ID, err)
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(f); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode sheet %s: %w", sh.meta.ID, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save sheet %s: %w", sh.meta.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save sheet %s: %w", sh.meta.ID, err)
	}
	return nil
}

func (m *Memory) EnsureSheet(_ context.Context, meta SheetMeta) (SheetMeta, error) {
	if err := meta.Bounds().Validate(); err != nil {
		return SheetMeta{}, err
	}
	if meta.ID == "" || strings.ContainsAny(meta.ID, `/\`) {
		return SheetMeta{}, fmt.Errorf("invalid sheet id %q", meta.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sh, ok := m.sheets[meta.ID]; ok {
		return sh.meta, nil
	}
	sh := &memSheet{meta: meta, cells: make(map[cell.Address]CellRow)}
	if err := m.saveLocked(sh); err != nil {
		return SheetMeta{}, err
	}
	m.sheets[meta.ID] = sh
	return meta, nil
}

func (m *Memory) GetSheet(_ context.Context, id string) (SheetMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.sheets[id]
	if !ok {
		return SheetMeta{}, fmt.Errorf("%w: %s", ErrSheetNotFound, id)
	}
	return sh.meta, nil
}

func (m *Memory) RenameSheet(_ context.Context, id, title string, at time.Time) (SheetMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.sheets[id]
	if !ok {
		return SheetMeta{}, fmt.Errorf("%w: %s", ErrSheetNotFound, id)
	}
	prev := sh.meta
	sh.meta.Title = title
	sh.meta.UpdatedAt = at
	if err := m.saveLocked(sh); err != nil {
		sh.meta = prev
		return SheetMeta{}, err
	}
	return sh.meta, nil
}

func (m *Memory) Upsert(ctx context.Context, row CellRow) (CellRow, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.sheets[row.SheetID]
	if !ok {
		return CellRow{}, false, fmt.Errorf("%w: %s", ErrSheetNotFound, row.SheetID)
	}
	addr := row.Addr()
	if err := sh.meta.Bounds().Check(addr); err != nil {
		return CellRow{}, false, err
	}
	if cur, ok := sh.cells[addr]; ok && row.UpdatedAt.Before(cur.UpdatedAt) {
		alog.Debugf(ctx, "store: upsert %s!%s at %s is stale, kept %s",
			row.SheetID, addr, row.UpdatedAt.Format(time.RFC3339Nano), cur.UpdatedAt.Format(time.RFC3339Nano))
		return cur, false, nil
	}
	prev, had := sh.cells[addr]
	sh.cells[addr] = row
	if err := m.saveLocked(sh); err != nil {
		if had {
			sh.cells[addr] = prev
		} else {
			delete(sh.cells, addr)
		}
		return CellRow{}, false, err
	}
	return row, true, nil
}

func (m *Memory) FetchAll(_ context.Context, sheetID string) ([]CellRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sh, ok := m.sheets[sheetID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, sheetID)
	}
	out := make([]CellRow, 0, len(sh.cells))
	for _, r := range sh.cells {
		out = append(out, r)
	}
	sortRows(out)
	return out, nil
}
