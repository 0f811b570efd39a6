package sheet

import (
	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/formula"
)

// RecalcStats counts recalculation work since the sheet was created.
type RecalcStats struct {
	Passes    int // one per Apply
	Evaluated int // formula evaluations across all passes
}

// Stats returns a snapshot of the recalculation counters.
func (s *Sheet) Stats() RecalcStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// resolver reads computed values without locking; it is only handed to
// formula.Eval while s.mu is held.
type resolver struct{ s *Sheet }

func (r resolver) Value(a cell.Address) cell.Value {
	if rec, ok := r.s.cells[a]; ok {
		return rec.Computed
	}
	return cell.Empty
}

func (r resolver) Bounds() cell.Bounds { return r.s.bounds }

// recalculate evaluates seeds and everything that transitively reads them,
// each cell after all of its precedents. Cells whose edit was rejected as
// circular keep their error value.
func (s *Sheet) recalculate(seeds []cell.Address) {
	affected := append(append([]cell.Address(nil), seeds...), s.graph.DependentsOf(seeds...)...)
	r := resolver{s}
	s.stats.Passes++
	for _, a := range s.graph.TopoSort(affected) {
		rec, ok := s.cells[a]
		if !ok || rec.Formula == nil || s.cyclic[a] {
			continue
		}
		rec.Computed = formula.Eval(rec.Formula, r)
		s.stats.Evaluated++
	}
}

// Recalculate re-evaluates every formula on the sheet.
func (s *Sheet) Recalculate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]cell.Address, 0, len(s.cells))
	for a, rec := range s.cells {
		if rec.Formula != nil {
			all = append(all, a)
		}
	}
	s.recalculate(all)
}
