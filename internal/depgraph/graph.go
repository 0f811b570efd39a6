// Package depgraph tracks which cells read which, orders recomputation and
// rejects cyclic formulas at edit time.
//
// An edge A -> B means "B's formula reads A". Adjacency is kept in both
// directions as roaring bitmaps over addresses packed by cell.Bounds.Key, so
// iteration is always in row-major order and results are deterministic.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

// CycleError is returned when a new set of references would make a cell
// reachable from itself. Path starts and ends at the edited cell.
type CycleError struct {
	Path []cell.Address
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, a := range e.Path {
		parts[i] = a.String()
	}
	return "circular reference: " + strings.Join(parts, " -> ")
}

// Graph is not safe for concurrent use; the owning sheet serializes access.
type Graph struct {
	bounds  cell.Bounds
	reads   map[uint32]*roaring.Bitmap // cell -> cells its formula reads
	readers map[uint32]*roaring.Bitmap // cell -> formulas reading it
}

func New(bounds cell.Bounds) *Graph {
	return &Graph{
		bounds:  bounds,
		reads:   make(map[uint32]*roaring.Bitmap),
		readers: make(map[uint32]*roaring.Bitmap),
	}
}

// Len is the number of cells with at least one outgoing read.
func (g *Graph) Len() int { return len(g.reads) }

// SetDependencies replaces every read-edge of addr with refs. If the new edges
// would close a cycle the graph is left untouched and a *CycleError returned.
func (g *Graph) SetDependencies(addr cell.Address, refs []cell.Address) error {
	if err := g.bounds.Check(addr); err != nil {
		return err
	}
	next := roaring.New()
	for _, r := range refs {
		if err := g.bounds.Check(r); err != nil {
			return fmt.Errorf("dependency of %s: %w", addr, err)
		}
		next.Add(g.bounds.Key(r))
	}
	if path := g.findPath(next, g.bounds.Key(addr)); path != nil {
		return &CycleError{Path: append([]cell.Address{addr}, path...)}
	}
	g.RemoveAllEdgesFrom(addr)
	if next.IsEmpty() {
		return nil
	}
	key := g.bounds.Key(addr)
	g.reads[key] = next
	it := next.Iterator()
	for it.HasNext() {
		src := it.Next()
		rd, ok := g.readers[src]
		if !ok {
			rd = roaring.New()
			g.readers[src] = rd
		}
		rd.Add(key)
	}
	return nil
}

// findPath walks read-edges forward from each of starts and returns the chain
// of addresses leading to target, or nil when target is unreachable.
func (g *Graph) findPath(starts *roaring.Bitmap, target uint32) []cell.Address {
	parent := make(map[uint32]uint32)
	visited := roaring.New()
	var queue []uint32
	it := starts.Iterator()
	for it.HasNext() {
		k := it.Next()
		visited.Add(k)
		queue = append(queue, k)
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		if k == target {
			var path []cell.Address
			for {
				path = append(path, g.bounds.Addr(k))
				p, ok := parent[k]
				if !ok {
					break
				}
				k = p
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path
		}
		rd, ok := g.reads[k]
		if !ok {
			continue
		}
		next := rd.Iterator()
		for next.HasNext() {
			n := next.Next()
			if visited.CheckedAdd(n) {
				parent[n] = k
				queue = append(queue, n)
			}
		}
	}
	return nil
}

// RemoveAllEdgesFrom drops every read-edge of addr. Used when a cell stops
// being a formula.
func (g *Graph) RemoveAllEdgesFrom(addr cell.Address) {
	if !g.bounds.Contains(addr) {
		return
	}
	key := g.bounds.Key(addr)
	old, ok := g.reads[key]
	if !ok {
		return
	}
	it := old.Iterator()
	for it.HasNext() {
		src := it.Next()
		if rd, ok := g.readers[src]; ok {
			rd.Remove(key)
			if rd.IsEmpty() {
				delete(g.readers, src)
			}
		}
	}
	delete(g.reads, key)
}

// Precedents lists the cells addr reads, row-major.
func (g *Graph) Precedents(addr cell.Address) []cell.Address {
	if !g.bounds.Contains(addr) {
		return nil
	}
	return g.addrs(g.reads[g.bounds.Key(addr)])
}

// DependentsOf returns every cell that transitively reads any of addrs, in an
// order where each cell follows all of its own precedents in the set. Seeds
// appear only when another seed depends on them.
func (g *Graph) DependentsOf(addrs ...cell.Address) []cell.Address {
	found := roaring.New()
	var queue []uint32
	for _, a := range addrs {
		if g.bounds.Contains(a) {
			queue = append(queue, g.bounds.Key(a))
		}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		rd, ok := g.readers[k]
		if !ok {
			continue
		}
		it := rd.Iterator()
		for it.HasNext() {
			n := it.Next()
			if found.CheckedAdd(n) {
				queue = append(queue, n)
			}
		}
	}
	return g.order(found)
}

// TopoSort orders set so that every cell follows its precedents within set.
func (g *Graph) TopoSort(set []cell.Address) []cell.Address {
	bm := roaring.New()
	for _, a := range set {
		if g.bounds.Contains(a) {
			bm.Add(g.bounds.Key(a))
		}
	}
	return g.order(bm)
}

// order is Kahn's algorithm restricted to set; ready cells are taken
// row-major so the result is stable.
func (g *Graph) order(set *roaring.Bitmap) []cell.Address {
	indegree := make(map[uint32]int, set.GetCardinality())
	it := set.Iterator()
	for it.HasNext() {
		k := it.Next()
		n := 0
		if rd, ok := g.reads[k]; ok {
			n = int(roaring.And(rd, set).GetCardinality())
		}
		indegree[k] = n
	}
	var ready []uint32
	for k, n := range indegree {
		if n == 0 {
			ready = append(ready, k)
		}
	}
	sortKeys(ready)

	out := make([]cell.Address, 0, len(indegree))
	for len(ready) > 0 {
		k := ready[0]
		ready = ready[1:]
		out = append(out, g.bounds.Addr(k))
		rd, ok := g.readers[k]
		if !ok {
			continue
		}
		var unlocked []uint32
		next := rd.Iterator()
		for next.HasNext() {
			n := next.Next()
			if _, in := indegree[n]; !in {
				continue
			}
			indegree[n]--
			if indegree[n] == 0 {
				unlocked = append(unlocked, n)
			}
		}
		ready = append(ready, unlocked...)
		sortKeys(ready)
	}
	return out
}

func (g *Graph) addrs(bm *roaring.Bitmap) []cell.Address {
	if bm == nil {
		return nil
	}
	out := make([]cell.Address, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, g.bounds.Addr(it.Next()))
	}
	return out
}

func sortKeys(ks []uint32) {
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
}
