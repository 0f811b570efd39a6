package cell

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Kind discriminates a Value.
type Kind int

const (
	KindEmpty Kind = iota
	KindNumber
	KindText
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindError:
		return "error"
	default:
		return "empty"
	}
}

// ErrorCode is the short token shown in a cell whose evaluation failed.
type ErrorCode string

const (
	ErrRef   ErrorCode = "#REF"
	ErrDiv0  ErrorCode = "#DIV0"
	ErrParse ErrorCode = "#PARSE"
	ErrValue ErrorCode = "#VALUE"
)

// Value is the computed content of a cell.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Err  ErrorCode
}

// Empty is the value of a blank cell.
var Empty = Value{}

func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

func Text(s string) Value { return Value{Kind: KindText, Str: s} }

func Error(code ErrorCode) Value { return Value{Kind: KindError, Err: code} }

func (v Value) IsError() bool { return v.Kind == KindError }

func (v Value) IsEmpty() bool { return v.Kind == KindEmpty }

// String formats the value for display.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return FormatNumber(v.Num)
	case KindText:
		return v.Str
	case KindError:
		return string(v.Err)
	default:
		return ""
	}
}

// FormatNumber renders n with the shortest representation that round-trips.
func FormatNumber(n float64) string {
	if n == 0 {
		return "0"
	}
	if a := math.Abs(n); a >= 1e21 || a < 1e-7 {
		return strings.ToUpper(strconv.FormatFloat(n, 'g', -1, 64))
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

var numericLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// ParseLiteral classifies non-formula input. Numeric text becomes a number so
// formulas can do arithmetic on it; anything else stays text.
func ParseLiteral(raw string) Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Empty
	}
	if numericLiteral.MatchString(s) {
		if n, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(n, 0) {
			return Number(n)
		}
	}
	return Text(raw)
}
