package formula

import (
	"math"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

// Resolver gives the evaluator read access to the current values of a sheet.
type Resolver interface {
	Value(a cell.Address) cell.Value
	Bounds() cell.Bounds
}

// Eval computes e against r. Failures are encoded as error values; Eval never
// returns a Go error. A formula that is a bare reference to a blank cell
// evaluates to 0.
func Eval(e Expr, r Resolver) cell.Value {
	v := eval(e, r)
	if v.IsEmpty() {
		return cell.Number(0)
	}
	return v
}

func eval(e Expr, r Resolver) cell.Value {
	switch n := e.(type) {
	case *NumberLit:
		return cell.Number(n.Value)
	case *TextLit:
		return cell.Text(n.Value)
	case *Ref:
		if !r.Bounds().Contains(n.Addr) {
			return cell.Error(cell.ErrRef)
		}
		return r.Value(n.Addr)
	case *RangeRef:
		// A range is only meaningful as a function argument.
		return cell.Error(cell.ErrValue)
	case *Unary:
		x, errv := number(eval(n.X, r))
		if errv != nil {
			return *errv
		}
		if n.Op == "-" {
			x = -x
		}
		return cell.Number(x)
	case *Postfix:
		x, errv := number(eval(n.X, r))
		if errv != nil {
			return *errv
		}
		return cell.Number(x / 100)
	case *Binary:
		return binary(n, r)
	case *Call:
		return functions[n.Name](n.Args, r)
	}
	return cell.Error(cell.ErrParse)
}

func binary(b *Binary, r Resolver) cell.Value {
	lv, rv := eval(b.L, r), eval(b.R, r)
	if b.Op == "&" {
		ls, errv := text(lv)
		if errv != nil {
			return *errv
		}
		rs, errv := text(rv)
		if errv != nil {
			return *errv
		}
		return cell.Text(ls + rs)
	}
	l, errv := number(lv)
	if errv != nil {
		return *errv
	}
	rn, errv := number(rv)
	if errv != nil {
		return *errv
	}
	var out float64
	switch b.Op {
	case "+":
		out = l + rn
	case "-":
		out = l - rn
	case "*":
		out = l * rn
	case "/":
		if rn == 0 {
			return cell.Error(cell.ErrDiv0)
		}
		out = l / rn
	case "^":
		out = math.Pow(l, rn)
	default:
		return cell.Error(cell.ErrParse)
	}
	return finite(out)
}

// finite is n as a number, or #VALUE when n overflowed or is NaN.
func finite(n float64) cell.Value {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return cell.Error(cell.ErrValue)
	}
	return cell.Number(n)
}

// number coerces a value for arithmetic: blank is 0, text is a type error.
func number(v cell.Value) (float64, *cell.Value) {
	switch v.Kind {
	case cell.KindNumber:
		return v.Num, nil
	case cell.KindEmpty:
		return 0, nil
	case cell.KindError:
		return 0, &v
	default:
		e := cell.Error(cell.ErrValue)
		return 0, &e
	}
}

// text coerces a value for concatenation: blank is "".
func text(v cell.Value) (string, *cell.Value) {
	if v.IsError() {
		return "", &v
	}
	return v.String(), nil
}
