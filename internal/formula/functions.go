package formula

import (
	"math"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

type function func(args []Expr, r Resolver) cell.Value

var functions map[string]function

func init() {
	functions = map[string]function{
		"SUM":     sum,
		"AVERAGE": average,
		"MIN":     extreme(math.Min),
		"MAX":     extreme(math.Max),
		"COUNT":   count,
	}
}

// visit feeds every argument value to fn. Range arguments are flattened and
// each cell is reported with fromRange set; a range that leaves the sheet is
// #REF. A non-nil return from fn stops the walk and becomes the result.
func visit(args []Expr, r Resolver, fn func(v cell.Value, fromRange bool) *cell.Value) *cell.Value {
	for _, a := range args {
		rr, ok := a.(*RangeRef)
		if !ok {
			if stop := fn(eval(a, r), false); stop != nil {
				return stop
			}
			continue
		}
		if !rr.Range.Within(r.Bounds()) {
			e := cell.Error(cell.ErrRef)
			return &e
		}
		var stop *cell.Value
		rr.Range.Each(r.Bounds(), func(addr cell.Address) bool {
			stop = fn(r.Value(addr), true)
			return stop == nil
		})
		if stop != nil {
			return stop
		}
	}
	return nil
}

// sum treats non-numeric range cells as 0. Scalar arguments must be numbers.
func sum(args []Expr, r Resolver) cell.Value {
	total := 0.0
	stop := visit(args, r, func(v cell.Value, fromRange bool) *cell.Value {
		if v.IsError() {
			return &v
		}
		if fromRange {
			if v.Kind == cell.KindNumber {
				total += v.Num
			}
			return nil
		}
		n, errv := number(v)
		if errv != nil {
			return errv
		}
		total += n
		return nil
	})
	if stop != nil {
		return *stop
	}
	return finite(total)
}

// numbers collects the values AVERAGE, MIN and MAX operate on: numeric range
// cells only, plus every scalar argument.
func numbers(args []Expr, r Resolver) ([]float64, *cell.Value) {
	var out []float64
	stop := visit(args, r, func(v cell.Value, fromRange bool) *cell.Value {
		if v.IsError() {
			return &v
		}
		if fromRange {
			if v.Kind == cell.KindNumber {
				out = append(out, v.Num)
			}
			return nil
		}
		n, errv := number(v)
		if errv != nil {
			return errv
		}
		out = append(out, n)
		return nil
	})
	return out, stop
}

func average(args []Expr, r Resolver) cell.Value {
	ns, stop := numbers(args, r)
	if stop != nil {
		return *stop
	}
	if len(ns) == 0 {
		return cell.Error(cell.ErrDiv0)
	}
	k := float64(len(ns))
	total := 0.0
	for _, n := range ns {
		total += n
	}
	if math.IsInf(total, 0) {
		// The sum overflowed; scale each term first.
		total = 0
		for _, n := range ns {
			total += n / k
		}
		return finite(total)
	}
	return finite(total / k)
}

func extreme(pick func(a, b float64) float64) function {
	return func(args []Expr, r Resolver) cell.Value {
		ns, stop := numbers(args, r)
		if stop != nil {
			return *stop
		}
		if len(ns) == 0 {
			return cell.Number(0)
		}
		out := ns[0]
		for _, n := range ns[1:] {
			out = pick(out, n)
		}
		return finite(out)
	}
}

// count counts numeric values and ignores everything else, including error
// values in cells. A range outside the sheet is still #REF.
func count(args []Expr, r Resolver) cell.Value {
	n := 0
	stop := visit(args, r, func(v cell.Value, _ bool) *cell.Value {
		if v.Kind == cell.KindNumber {
			n++
		}
		return nil
	})
	if stop != nil {
		return *stop
	}
	return cell.Number(float64(n))
}
