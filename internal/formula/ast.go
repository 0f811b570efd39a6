package formula

import (
	"strings"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

// Expr is a node of a parsed formula.
type Expr interface {
	// String renders the node fully parenthesized, which makes precedence
	// visible in tests and logs.
	String() string
	node()
}

type NumberLit struct{ Value float64 }

type TextLit struct{ Value string }

type Ref struct{ Addr cell.Address }

type RangeRef struct{ Range cell.Range }

// Unary is a prefix sign: "-" or "+".
type Unary struct {
	Op string
	X  Expr
}

// Postfix is the percent operator.
type Postfix struct {
	Op string
	X  Expr
}

type Binary struct {
	Op   string
	L, R Expr
}

// Call is a function application. Name is upper-case.
type Call struct {
	Name string
	Args []Expr
}

func (NumberLit) node() {}
func (TextLit) node()   {}
func (Ref) node()       {}
func (RangeRef) node()  {}
func (Unary) node()     {}
func (Postfix) node()   {}
func (Binary) node()    {}
func (Call) node()      {}

func (n NumberLit) String() string { return cell.FormatNumber(n.Value) }
func (t TextLit) String() string   { return `"` + t.Value + `"` }
func (r Ref) String() string       { return r.Addr.String() }
func (r RangeRef) String() string  { return r.Range.String() }
func (u Unary) String() string     { return "(" + u.Op + u.X.String() + ")" }
func (p Postfix) String() string   { return "(" + p.X.String() + p.Op + ")" }
func (b Binary) String() string {
	return "(" + b.L.String() + b.Op + b.R.String() + ")"
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return c.Name + "(" + strings.Join(args, ",") + ")"
}

// References lists every in-bounds address e reads, ranges flattened, in
// first-seen order without duplicates. Out-of-bounds references evaluate to
// #REF and never change, so they carry no dependency.
func References(e Expr, b cell.Bounds) []cell.Address {
	var out []cell.Address
	seen := make(map[cell.Address]bool)
	add := func(a cell.Address) bool {
		if b.Contains(a) && !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
		return true
	}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Ref:
			add(n.Addr)
		case *RangeRef:
			n.Range.Each(b, add)
		case *Unary:
			walk(n.X)
		case *Postfix:
			walk(n.X)
		case *Binary:
			walk(n.L)
			walk(n.R)
		case *Call:
			for _, a := range n.Args {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}
