// Package xlsx converts between stored cell rows and Excel workbooks.
package xlsx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/store"
)

// SheetName makes title usable as a worksheet name.
func SheetName(title string) string {
	name := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(title))
	name = strings.Trim(name, "'")
	if r := []rune(name); len(r) > excelize.MaxSheetNameLength {
		name = string(r[:excelize.MaxSheetNameLength])
	}
	if name == "" {
		return "Sheet1"
	}
	return name
}

// Export writes rows as a single-sheet workbook. Formula cells keep their
// formula with the last displayed value cached; numeric literals whose text
// is canonical become numbers and every other literal stays a string.
func Export(w io.Writer, meta store.SheetMeta, rows []store.CellRow) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(meta.Title)
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("name sheet %q: %w", sheet, err)
	}
	for _, r := range rows {
		if r.Deleted() {
			continue
		}
		name, err := excelize.CoordinatesToCellName(r.Col+1, r.Row+1)
		if err != nil {
			return err
		}
		if r.Formula != "" {
			if r.Value != "" {
				if err := setLiteral(f, sheet, name, r.Value); err != nil {
					return err
				}
			}
			if err := f.SetCellFormula(sheet, name, strings.TrimPrefix(r.Formula, "=")); err != nil {
				return fmt.Errorf("formula %s: %w", name, err)
			}
			continue
		}
		if err := setLiteral(f, sheet, name, r.Value); err != nil {
			return err
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setLiteral(f *excelize.File, sheet, name, raw string) error {
	if v := cell.ParseLiteral(raw); v.Kind == cell.KindNumber && cell.FormatNumber(v.Num) == raw {
		return f.SetCellFloat(sheet, name, v.Num, -1, 64)
	}
	return f.SetCellStr(sheet, name, raw)
}

// Import reads the first worksheet of a workbook into rows for meta's sheet,
// stamped at and user. Formulas win over cached values. A non-empty cell
// outside the sheet bounds fails the import with a *cell.RangeError.
func Import(r io.Reader, meta store.SheetMeta, at time.Time, user string) ([]store.CellRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]
	values, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	nRows, nCols := len(values), 0
	for _, row := range values {
		nCols = max(nCols, len(row))
	}
	if dim, err := f.GetSheetDimension(sheet); err == nil && dim != "" {
		parts := strings.Split(dim, ":")
		if c, r, err := excelize.CellNameToCoordinates(parts[len(parts)-1]); err == nil {
			nRows, nCols = max(nRows, r), max(nCols, c)
		}
	}

	bounds := meta.Bounds()
	var out []store.CellRow
	for ri := 0; ri < nRows; ri++ {
		for ci := 0; ci < nCols; ci++ {
			name, err := excelize.CoordinatesToCellName(ci+1, ri+1)
			if err != nil {
				return nil, err
			}
			raw := ""
			if ri < len(values) && ci < len(values[ri]) {
				raw = values[ri][ci]
			}
			formula, err := f.GetCellFormula(sheet, name)
			if err != nil {
				return nil, fmt.Errorf("formula %s: %w", name, err)
			}
			if formula != "" {
				raw = "=" + formula
			}
			if raw == "" {
				continue
			}
			addr := cell.Address{Row: ri, Col: ci}
			if err := bounds.Check(addr); err != nil {
				return nil, err
			}
			out = append(out, store.NewCellRow(meta.ID, addr, raw, "", at, user))
		}
	}
	return out, nil
}
