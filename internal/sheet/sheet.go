package sheet

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lijuchacko/sheetsync/internal/cell"
	"github.com/lijuchacko/sheetsync/internal/depgraph"
	"github.com/lijuchacko/sheetsync/internal/formula"
)

// Kind says how a cell's raw input is interpreted.
type Kind int

const (
	KindLiteral Kind = iota
	KindFormula
)

func (k Kind) String() string {
	if k == KindFormula {
		return "formula"
	}
	return "literal"
}

// Record is one cell of a sheet. A record with empty Raw is a cleared cell;
// it is kept so its UpdatedAt still orders later edits.
type Record struct {
	Addr      cell.Address
	Raw       string
	Kind      Kind
	Formula   formula.Expr // nil unless Kind is KindFormula and Raw parsed
	Computed  cell.Value
	UpdatedAt time.Time
	User      string // last editor
}

// Edit is a write of raw input to one address at a logical time.
type Edit struct {
	Addr cell.Address
	Raw  string
	At   time.Time
	User string
}

// Sheet is the in-memory cell store of one sheet session. Every mutation
// parses, updates the dependency graph and recalculates before the lock is
// released, so readers never see a stale computed value.
type Sheet struct {
	id     string
	bounds cell.Bounds
	now    func() time.Time

	mu         sync.RWMutex
	cells      map[cell.Address]*Record
	graph      *depgraph.Graph
	cyclic     map[cell.Address]bool // edit rejected as circular; skipped by recalc
	audit      []AuditEntry
	auditLimit int
	stats      RecalcStats
}

// Option configures a Sheet.
type Option func(*Sheet)

// WithClock sets the time source used by SetRaw and Delete.
func WithClock(now func() time.Time) Option {
	return func(s *Sheet) { s.now = now }
}

// WithAuditLimit bounds the number of retained audit entries.
func WithAuditLimit(n int) Option {
	return func(s *Sheet) { s.auditLimit = n }
}

// New creates an empty sheet with fixed dimensions.
func New(id string, bounds cell.Bounds, opts ...Option) (*Sheet, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	s := &Sheet{
		id:         id,
		bounds:     bounds,
		now:        time.Now,
		cells:      make(map[cell.Address]*Record),
		graph:      depgraph.New(bounds),
		cyclic:     make(map[cell.Address]bool),
		auditLimit: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Sheet) ID() string { return s.id }

func (s *Sheet) Bounds() cell.Bounds { return s.bounds }

// Get returns the record at addr, or a blank record when nothing is stored.
func (s *Sheet) Get(addr cell.Address) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.cells[addr]; ok {
		return *rec
	}
	return Record{Addr: addr}
}

// RawInput is the text shown when the cell enters edit mode.
func (s *Sheet) RawInput(addr cell.Address) string {
	return s.Get(addr).Raw
}

// DisplayValue formats a cell for presentation. Literals display exactly as
// typed; formulas display their computed value or error token.
func (s *Sheet) DisplayValue(addr cell.Address) string {
	rec := s.Get(addr)
	if rec.Kind == KindLiteral {
		return rec.Raw
	}
	return rec.Computed.String()
}

// Cyclic reports whether the last edit of addr was rejected as circular.
func (s *Sheet) Cyclic(addr cell.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cyclic[addr]
}

// SetRaw writes text to addr stamped with the sheet clock. See Apply.
func (s *Sheet) SetRaw(addr cell.Address, text string) error {
	return s.Apply(Edit{Addr: addr, Raw: text, At: s.now()})
}

// Delete clears addr; references to it then read as blank.
func (s *Sheet) Delete(addr cell.Address) error {
	return s.SetRaw(addr, "")
}

// Apply writes every edit and then recalculates the union of edited cells
// and their dependents once. An address outside the sheet fails the whole
// batch with a *cell.RangeError before anything is written. Edits rejected as
// circular are still stored (showing #REF) and reported as *depgraph.CycleError
// values joined into the returned error.
func (s *Sheet) Apply(edits ...Edit) error {
	for _, e := range edits {
		if err := s.bounds.Check(e.Addr); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	seeds := make([]cell.Address, 0, len(edits))
	for _, e := range edits {
		if err := s.write(e); err != nil {
			errs = append(errs, err)
		}
		seeds = append(seeds, e.Addr)
	}
	s.recalculate(seeds)
	return errors.Join(errs...)
}

// write stores one edit and maintains the graph. It does not evaluate.
func (s *Sheet) write(e Edit) error {
	rec, exists := s.cells[e.Addr]
	if !exists {
		rec = &Record{Addr: e.Addr}
		s.cells[e.Addr] = rec
	}
	prev := rec.Raw
	*rec = Record{Addr: e.Addr, Raw: e.Raw, UpdatedAt: e.At, User: e.User}
	delete(s.cyclic, e.Addr)

	switch {
	case e.Raw == "":
		s.graph.RemoveAllEdgesFrom(e.Addr)
		s.record(e, "CLEAR_CELL", "Cleared cell "+e.Addr.String())
		return nil
	case !formula.IsFormula(e.Raw):
		s.graph.RemoveAllEdgesFrom(e.Addr)
		rec.Computed = cell.ParseLiteral(e.Raw)
	default:
		rec.Kind = KindFormula
		expr, err := formula.Parse(e.Raw)
		if err != nil {
			s.graph.RemoveAllEdgesFrom(e.Addr)
			rec.Computed = cell.Error(cell.ErrParse)
			break
		}
		rec.Formula = expr
		if err := s.graph.SetDependencies(e.Addr, formula.References(expr, s.bounds)); err != nil {
			rec.Computed = cell.Error(cell.ErrRef)
			s.cyclic[e.Addr] = true
			s.record(e, "EDIT_REJECTED", "Rejected "+e.Raw+" in cell "+e.Addr.String()+": "+err.Error())
			return err
		}
	}
	if exists && prev != "" {
		s.record(e, "EDIT_CELL", "Changed cell "+e.Addr.String()+" from "+prev+" to "+e.Raw)
	} else {
		s.record(e, "EDIT_CELL", "Set cell "+e.Addr.String()+" to "+e.Raw)
	}
	return nil
}

// Cells returns every non-blank record, row-major.
func (s *Sheet) Cells() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.cells))
	for _, rec := range s.cells {
		if rec.Raw != "" {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.Less(out[j].Addr) })
	return out
}

// Dependents lists the cells that would be recomputed if addr changed.
func (s *Sheet) Dependents(addr cell.Address) []cell.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.DependentsOf(addr)
}
