package formula

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/efp"

	"github.com/lijuchacko/sheetsync/internal/cell"
)

// ParseError describes malformed formula text. The cell shows #PARSE.
type ParseError struct {
	Formula string
	Msg     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Formula, e.Msg)
}

// IsFormula reports whether raw cell input is a formula.
func IsFormula(raw string) bool {
	return strings.HasPrefix(raw, "=")
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokNumber
	tokText
	tokOperand
	tokFunc
	tokFuncEnd
	tokSep
	tokLParen
	tokRParen
	tokInfix
	tokPrefix
	tokPostfix
)

type token struct {
	kind tokKind
	val  string
}

var (
	refPattern = regexp.MustCompile(`^\$?[A-Za-z]+\$?[0-9]+$`)

	// Binding power of infix operators; all are left-associative.
	precedence = map[string]int{
		"&": 1,
		"+": 2, "-": 2,
		"*": 3, "/": 3,
		"^": 4,
	}
)

// Parse turns formula text (starting with "=") into an expression tree.
// Spaces around the ":" of a range are ignored, so "A1 : A2" is A1:A2.
func Parse(text string) (Expr, error) {
	if !IsFormula(text) {
		return nil, &ParseError{Formula: text, Msg: "formula must start with '='"}
	}
	if strings.TrimSpace(text[1:]) == "" {
		return nil, &ParseError{Formula: text, Msg: "empty formula"}
	}
	src, err := normalize(text)
	if err != nil {
		return nil, &ParseError{Formula: text, Msg: err.Error()}
	}
	toks, err := tokenize(src)
	if err != nil {
		return nil, &ParseError{Formula: text, Msg: err.Error()}
	}
	p := &parser{src: text, toks: toks}
	e, err := p.parseBinary(1)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected %q", t.val)
	}
	return e, nil
}

// normalize drops blanks next to a range colon outside string literals and
// rejects an unterminated string, which efp would otherwise accept.
func normalize(text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '"' {
			// "" inside a string is an escaped quote and toggles twice.
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if !inString && ch == ':' {
			out := strings.TrimRight(b.String(), " ")
			b.Reset()
			b.WriteString(out)
			b.WriteByte(ch)
			for i+1 < len(text) && text[i+1] == ' ' {
				i++
			}
			continue
		}
		b.WriteByte(ch)
	}
	if inString {
		return "", fmt.Errorf("unterminated string")
	}
	return b.String(), nil
}

// tokenize runs the efp Excel tokenizer and maps its tokens onto the small
// set the parser understands.
func tokenize(text string) (toks []token, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tokenize: %v", r)
		}
	}()
	ps := efp.ExcelParser()
	for _, t := range ps.Parse(text) {
		switch t.TType {
		case efp.TokenTypeOperand:
			switch t.TSubType {
			case efp.TokenSubTypeNumber:
				toks = append(toks, token{tokNumber, t.TValue})
			case efp.TokenSubTypeText:
				toks = append(toks, token{tokText, t.TValue})
			case efp.TokenSubTypeRange, efp.TokenSubTypeLogical:
				toks = append(toks, token{tokOperand, t.TValue})
			default:
				return nil, fmt.Errorf("unsupported operand %q", t.TValue)
			}
		case efp.TokenTypeFunction:
			if t.TSubType == efp.TokenSubTypeStart {
				toks = append(toks, token{tokFunc, strings.ToUpper(t.TValue)})
			} else {
				toks = append(toks, token{tokFuncEnd, ")"})
			}
		case efp.TokenTypeSubexpression:
			if t.TSubType == efp.TokenSubTypeStart {
				toks = append(toks, token{tokLParen, "("})
			} else {
				toks = append(toks, token{tokRParen, ")"})
			}
		case efp.TokenTypeArgument:
			toks = append(toks, token{tokSep, ","})
		case efp.TokenTypeOperatorInfix:
			toks = append(toks, token{tokInfix, t.TValue})
		case efp.TokenTypeOperatorPrefix:
			toks = append(toks, token{tokPrefix, t.TValue})
		case efp.TokenTypeOperatorPostfix:
			toks = append(toks, token{tokPostfix, t.TValue})
		case efp.TokenTypeWhitespace, efp.TokenTypeNoop:
		default:
			return nil, fmt.Errorf("unexpected %q", t.TValue)
		}
	}
	return toks, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos >= len(p.toks) {
		return token{kind: tokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Formula: p.src, Msg: fmt.Sprintf(format, args...)}
}

// parseBinary is a precedence-climbing loop over infix operators.
func (p *parser) parseBinary(minPrec int) (Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokInfix {
			return lhs, nil
		}
		prec, ok := precedence[t.val]
		if !ok {
			return nil, p.errorf("unsupported operator %q", t.val)
		}
		if prec < minPrec {
			return lhs, nil
		}
		p.next()
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: t.val, L: lhs, R: rhs}
	}
}

// parseUnary binds signs tighter than "^", so -2^2 is 4.
func (p *parser) parseUnary() (Expr, error) {
	if t := p.peek(); t.kind == tokPrefix {
		p.next()
		if t.val != "-" && t.val != "+" {
			return nil, p.errorf("unsupported prefix %q", t.val)
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: t.val, X: x}, nil
	}
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokPostfix {
		t := p.next()
		if t.val != "%" {
			return nil, p.errorf("unsupported postfix %q", t.val)
		}
		x = &Postfix{Op: t.val, X: x}
	}
	return x, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		n, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, p.errorf("bad number %q", t.val)
		}
		return &NumberLit{Value: n}, nil
	case tokText:
		return &TextLit{Value: t.val}, nil
	case tokOperand:
		return p.operand(t.val)
	case tokLParen:
		e, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, p.errorf("missing ')'")
		}
		return e, nil
	case tokFunc:
		return p.call(t.val)
	case tokEOF:
		return nil, p.errorf("unexpected end of formula")
	default:
		return nil, p.errorf("unexpected %q", t.val)
	}
}

// operand classifies a bare efp operand: a cell reference, a range, or
// literal text.
func (p *parser) operand(v string) (Expr, error) {
	if strings.Contains(v, "!") {
		return nil, p.errorf("cross-sheet reference %q not supported", v)
	}
	if from, to, ok := strings.Cut(v, ":"); ok {
		if !refPattern.MatchString(from) || !refPattern.MatchString(to) {
			return nil, p.errorf("invalid range %q", v)
		}
		r, err := cell.ParseRange(v)
		if err != nil {
			return nil, p.errorf("invalid range %q", v)
		}
		return &RangeRef{Range: r}, nil
	}
	if refPattern.MatchString(v) {
		a, err := cell.ParseAddress(v)
		if err != nil {
			return nil, p.errorf("invalid reference %q", v)
		}
		return &Ref{Addr: a}, nil
	}
	return &TextLit{Value: v}, nil
}

func (p *parser) call(name string) (Expr, error) {
	if _, ok := functions[name]; !ok {
		return nil, p.errorf("unknown function %s", name)
	}
	c := &Call{Name: name}
	if p.peek().kind == tokFuncEnd {
		p.next()
		return nil, p.errorf("%s needs at least one argument", name)
	}
	for {
		arg, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, arg)
		switch t := p.next(); t.kind {
		case tokSep:
		case tokFuncEnd:
			return c, nil
		default:
			return nil, p.errorf("expected ',' or ')' in %s", name)
		}
	}
}
