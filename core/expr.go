package core

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Expressions after an "eval:" marker are evaluated by a small arithmetic and
// string language with Python-like number semantics:
//
//	expr    := term (('+' | '-') term)*
//	term    := unary (('*' | '/' | '//' | '%') unary)*
//	unary   := ('-' | '+') unary | power
//	power   := primary ('**' unary)?
//	primary := number | string | name '(' [expr (',' expr)*] ')' | '(' expr ')'
//
// Only the builtins below are callable; nothing else is reachable.

var (
	errDivisionByZero = errors.New("division by zero")
	errIntOverflow    = errors.New("integer overflow")
)

// maxStringLen bounds string results; names end up as file names.
const maxStringLen = 4096

type valueKind int

const (
	intValue valueKind = iota
	floatValue
	stringValue
)

type value struct {
	kind valueKind
	i    int64
	f    float64
	s    string
}

func intVal(i int64) value     { return value{kind: intValue, i: i} }
func floatVal(f float64) value { return value{kind: floatValue, f: f} }
func stringVal(s string) value { return value{kind: stringValue, s: s} }

func (v value) number() (float64, bool) {
	switch v.kind {
	case intValue:
		return float64(v.i), true
	case floatValue:
		return v.f, true
	}
	return 0, false
}

func (v value) typeName() string {
	switch v.kind {
	case intValue:
		return "int"
	case floatValue:
		return "float"
	}
	return "str"
}

// String formats the value the way Python's str() does.
func (v value) String() string {
	switch v.kind {
	case intValue:
		return strconv.FormatInt(v.i, 10)
	case floatValue:
		return formatFloat(v.f)
	}
	return v.s
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// EvalExpr evaluates src and returns the result formatted as a string.
func EvalExpr(src string) (string, error) {
	p := &exprParser{lex: exprLexer{src: src}}
	if err := p.next(); err != nil {
		return "", err
	}
	v, err := p.expr()
	if err != nil {
		return "", err
	}
	if p.tok.kind != tokEOF {
		return "", fmt.Errorf("eval: unexpected %q at offset %d", p.tok.text, p.tok.pos)
	}
	return v.String(), nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokInt
	tokFloat
	tokString
	tokName
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type exprLexer struct {
	src string
	pos int
}

func (l *exprLexer) scan() (token, error) {
	for l.pos < len(l.src) && (l.src[l.pos] == ' ' || l.src[l.pos] == '\t') {
		l.pos++
	}
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}
	c := l.src[l.pos]
	switch {
	case isDigit(c) || (c == '.' && l.pos+1 < len(l.src) && isDigit(l.src[l.pos+1])):
		return l.scanNumber()
	case c == '\'' || c == '"':
		return l.scanString(c)
	case c == '_' || isLetter(c):
		for l.pos < len(l.src) && (l.src[l.pos] == '_' || isLetter(l.src[l.pos]) || isDigit(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokName, text: l.src[start:l.pos], pos: start}, nil
	}
	for _, op := range []string{"**", "//", "+", "-", "*", "/", "%", "(", ")", ","} {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, fmt.Errorf("eval: unexpected character %q at offset %d", c, start)
}

func (l *exprLexer) scanNumber() (token, error) {
	start := l.pos
	kind := tokInt
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		kind = tokFloat
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		kind = tokFloat
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		digits := l.pos
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
		if digits == l.pos {
			return token{}, fmt.Errorf("eval: malformed number %q", l.src[start:l.pos])
		}
	}
	return token{kind: kind, text: l.src[start:l.pos], pos: start}, nil
}

func (l *exprLexer) scanString(quote byte) (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == quote:
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		case c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(c)
		}
		l.pos++
	}
	return token{}, fmt.Errorf("eval: unterminated string at offset %d", start)
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

type exprParser struct {
	lex exprLexer
	tok token
}

func (p *exprParser) next() (err error) {
	p.tok, err = p.lex.scan()
	return err
}

func (p *exprParser) isOp(ops ...string) bool {
	if p.tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if p.tok.text == op {
			return true
		}
	}
	return false
}

func (p *exprParser) expect(op string) error {
	if !p.isOp(op) {
		if p.tok.kind == tokEOF {
			return fmt.Errorf("eval: expected %q at end of expression", op)
		}
		return fmt.Errorf("eval: expected %q, got %q at offset %d", op, p.tok.text, p.tok.pos)
	}
	return p.next()
}

func (p *exprParser) expr() (value, error) {
	left, err := p.term()
	if err != nil {
		return value{}, err
	}
	for p.isOp("+", "-") {
		op := p.tok.text
		if err := p.next(); err != nil {
			return value{}, err
		}
		right, err := p.term()
		if err != nil {
			return value{}, err
		}
		if left, err = binary(op, left, right); err != nil {
			return value{}, err
		}
	}
	return left, nil
}

func (p *exprParser) term() (value, error) {
	left, err := p.unary()
	if err != nil {
		return value{}, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.tok.text
		if err := p.next(); err != nil {
			return value{}, err
		}
		right, err := p.unary()
		if err != nil {
			return value{}, err
		}
		if left, err = binary(op, left, right); err != nil {
			return value{}, err
		}
	}
	return left, nil
}

func (p *exprParser) unary() (value, error) {
	if p.isOp("-", "+") {
		op := p.tok.text
		if err := p.next(); err != nil {
			return value{}, err
		}
		v, err := p.unary()
		if err != nil {
			return value{}, err
		}
		switch {
		case op == "+" && v.kind != stringValue:
			return v, nil
		case v.kind == intValue:
			if v.i == math.MinInt64 {
				return value{}, fmt.Errorf("eval: %w", errIntOverflow)
			}
			return intVal(-v.i), nil
		case v.kind == floatValue:
			return floatVal(-v.f), nil
		}
		return value{}, fmt.Errorf("eval: bad operand type for unary %s: str", op)
	}
	return p.power()
}

func (p *exprParser) power() (value, error) {
	base, err := p.primary()
	if err != nil {
		return value{}, err
	}
	if !p.isOp("**") {
		return base, nil
	}
	if err := p.next(); err != nil {
		return value{}, err
	}
	exp, err := p.unary()
	if err != nil {
		return value{}, err
	}
	return binary("**", base, exp)
}

func (p *exprParser) primary() (value, error) {
	tok := p.tok
	switch tok.kind {
	case tokInt:
		i, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return value{}, fmt.Errorf("eval: %v", err)
		}
		return intVal(i), p.next()
	case tokFloat:
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return value{}, fmt.Errorf("eval: %v", err)
		}
		return floatVal(f), p.next()
	case tokString:
		return stringVal(tok.text), p.next()
	case tokName:
		return p.call()
	case tokOp:
		if tok.text == "(" {
			if err := p.next(); err != nil {
				return value{}, err
			}
			v, err := p.expr()
			if err != nil {
				return value{}, err
			}
			return v, p.expect(")")
		}
	case tokEOF:
		return value{}, errors.New("eval: unexpected end of expression")
	}
	return value{}, fmt.Errorf("eval: unexpected %q at offset %d", tok.text, tok.pos)
}

func (p *exprParser) call() (value, error) {
	name := p.tok.text
	fn, ok := builtins[name]
	if !ok {
		return value{}, fmt.Errorf("eval: unknown name %q", name)
	}
	if err := p.next(); err != nil {
		return value{}, err
	}
	if err := p.expect("("); err != nil {
		return value{}, err
	}
	var args []value
	for !p.isOp(")") {
		arg, err := p.expr()
		if err != nil {
			return value{}, err
		}
		args = append(args, arg)
		if !p.isOp(",") {
			break
		}
		if err := p.next(); err != nil {
			return value{}, err
		}
	}
	if err := p.expect(")"); err != nil {
		return value{}, err
	}
	v, err := fn(args)
	if err != nil {
		return value{}, fmt.Errorf("eval: %s(): %w", name, err)
	}
	return v, nil
}

func binary(op string, a, b value) (value, error) {
	if a.kind == stringValue || b.kind == stringValue {
		return stringBinary(op, a, b)
	}
	if a.kind == intValue && b.kind == intValue {
		return intBinary(op, a.i, b.i)
	}
	x, _ := a.number()
	y, _ := b.number()
	switch op {
	case "+":
		return floatVal(x + y), nil
	case "-":
		return floatVal(x - y), nil
	case "*":
		return floatVal(x * y), nil
	case "/":
		if y == 0 {
			return value{}, fmt.Errorf("eval: float %w", errDivisionByZero)
		}
		return floatVal(x / y), nil
	case "//":
		if y == 0 {
			return value{}, fmt.Errorf("eval: float %w", errDivisionByZero)
		}
		return floatVal(math.Floor(x / y)), nil
	case "%":
		if y == 0 {
			return value{}, fmt.Errorf("eval: float modulo by zero")
		}
		return floatVal(x - y*math.Floor(x/y)), nil
	case "**":
		return floatVal(math.Pow(x, y)), nil
	}
	return value{}, fmt.Errorf("eval: unsupported operator %s", op)
}

func intBinary(op string, x, y int64) (value, error) {
	switch op {
	case "+":
		return checkedInt(addInt(x, y))
	case "-":
		return checkedInt(subInt(x, y))
	case "*":
		return checkedInt(mulInt(x, y))
	case "/":
		if y == 0 {
			return value{}, fmt.Errorf("eval: %w", errDivisionByZero)
		}
		return floatVal(float64(x) / float64(y)), nil
	case "//", "%":
		if y == 0 {
			return value{}, fmt.Errorf("eval: integer %w", errDivisionByZero)
		}
		q, r := x/y, x%y
		// floor toward negative infinity
		if y == -1 {
			// MinInt64 // -1 does not fit
			if op == "%" {
				return intVal(0), nil
			}
			return checkedInt(subInt(0, x))
		}
		if r != 0 && (r < 0) != (y < 0) {
			q--
			r += y
		}
		if op == "//" {
			return intVal(q), nil
		}
		return intVal(r), nil
	case "**":
		if y < 0 {
			return floatVal(math.Pow(float64(x), float64(y))), nil
		}
		return checkedInt(powInt(x, y))
	}
	return value{}, fmt.Errorf("eval: unsupported operator %s", op)
}

func checkedInt(v int64, ok bool) (value, error) {
	if !ok {
		return value{}, fmt.Errorf("eval: %w", errIntOverflow)
	}
	return intVal(v), nil
}

func addInt(x, y int64) (int64, bool) {
	r := x + y
	return r, (y >= 0) == (r >= x)
}

func subInt(x, y int64) (int64, bool) {
	r := x - y
	return r, (y >= 0) == (r <= x)
}

func mulInt(x, y int64) (int64, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	if (x == -1 && y == math.MinInt64) || (y == -1 && x == math.MinInt64) {
		return 0, false
	}
	r := x * y
	return r, r/y == x
}

// powInt raises x to y >= 0 by squaring.
func powInt(x, y int64) (int64, bool) {
	result := int64(1)
	ok := true
	for y > 0 {
		if y&1 == 1 {
			if result, ok = mulInt(result, x); !ok {
				return 0, false
			}
		}
		y >>= 1
		if y > 0 {
			if x, ok = mulInt(x, x); !ok {
				return 0, false
			}
		}
	}
	return result, true
}

// floatToInt truncates f toward zero.
func floatToInt(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("cannot convert %s to integer", formatFloat(f))
	}
	t := math.Trunc(f)
	// float64(MaxInt64) rounds up to 2**63
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return 0, errIntOverflow
	}
	return int64(t), nil
}

func stringBinary(op string, a, b value) (value, error) {
	switch {
	case op == "+" && a.kind == stringValue && b.kind == stringValue:
		if len(a.s)+len(b.s) > maxStringLen {
			return value{}, fmt.Errorf("eval: string longer than %d bytes", maxStringLen)
		}
		return stringVal(a.s + b.s), nil
	case op == "*" && a.kind == stringValue && b.kind == intValue:
		return repeat(a.s, b.i)
	case op == "*" && a.kind == intValue && b.kind == stringValue:
		return repeat(b.s, a.i)
	}
	return value{}, fmt.Errorf("eval: unsupported operand types for %s: %s and %s",
		op, a.typeName(), b.typeName())
}

func repeat(s string, n int64) (value, error) {
	if n <= 0 || len(s) == 0 {
		return stringVal(""), nil
	}
	if n > int64(maxStringLen/len(s)) {
		return value{}, fmt.Errorf("eval: string longer than %d bytes", maxStringLen)
	}
	return stringVal(strings.Repeat(s, int(n))), nil
}

var builtins = map[string]func([]value) (value, error){
	"int":   builtinInt,
	"float": builtinFloat,
	"str":   builtinStr,
	"abs":   builtinAbs,
	"round": builtinRound,
	"min":   func(args []value) (value, error) { return extremum(args, -1) },
	"max":   func(args []value) (value, error) { return extremum(args, 1) },
}

func oneArg(args []value) (value, error) {
	if len(args) != 1 {
		return value{}, fmt.Errorf("takes exactly one argument (%d given)", len(args))
	}
	return args[0], nil
}

func builtinInt(args []value) (value, error) {
	v, err := oneArg(args)
	if err != nil {
		return value{}, err
	}
	switch v.kind {
	case intValue:
		return v, nil
	case floatValue:
		i, err := floatToInt(v.f)
		if err != nil {
			return value{}, err
		}
		return intVal(i), nil
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
	if err != nil {
		return value{}, fmt.Errorf("invalid literal %q", v.s)
	}
	return intVal(i), nil
}

func builtinFloat(args []value) (value, error) {
	v, err := oneArg(args)
	if err != nil {
		return value{}, err
	}
	if f, ok := v.number(); ok {
		return floatVal(f), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
	if err != nil {
		return value{}, fmt.Errorf("could not convert %q to float", v.s)
	}
	return floatVal(f), nil
}

func builtinStr(args []value) (value, error) {
	v, err := oneArg(args)
	if err != nil {
		return value{}, err
	}
	return stringVal(v.String()), nil
}

func builtinAbs(args []value) (value, error) {
	v, err := oneArg(args)
	if err != nil {
		return value{}, err
	}
	switch v.kind {
	case intValue:
		if v.i < 0 {
			return checkedInt(subInt(0, v.i))
		}
		return v, nil
	case floatValue:
		return floatVal(math.Abs(v.f)), nil
	}
	return value{}, errors.New("bad operand type: str")
}

func builtinRound(args []value) (value, error) {
	if len(args) == 0 || len(args) > 2 {
		return value{}, fmt.Errorf("takes one or two arguments (%d given)", len(args))
	}
	x, ok := args[0].number()
	if !ok {
		return value{}, errors.New("bad operand type: str")
	}
	if len(args) == 1 {
		if args[0].kind == intValue {
			return args[0], nil
		}
		i, err := floatToInt(math.RoundToEven(x))
		if err != nil {
			return value{}, err
		}
		return intVal(i), nil
	}
	if args[1].kind != intValue {
		return value{}, errors.New("ndigits must be an integer")
	}
	if args[0].kind == intValue && args[1].i >= 0 {
		return args[0], nil
	}
	scale := math.Pow(10, float64(args[1].i))
	return floatVal(math.RoundToEven(x*scale) / scale), nil
}

func extremum(args []value, sign int) (value, error) {
	if len(args) == 0 {
		return value{}, errors.New("expected at least one argument")
	}
	best := args[0]
	for _, v := range args[1:] {
		bx, bok := best.number()
		vx, vok := v.number()
		if !bok || !vok {
			if best.kind != stringValue || v.kind != stringValue {
				return value{}, errors.New("cannot compare str with number")
			}
			if (sign > 0 && v.s > best.s) || (sign < 0 && v.s < best.s) {
				best = v
			}
			continue
		}
		if (sign > 0 && vx > bx) || (sign < 0 && vx < bx) {
			best = v
		}
	}
	return best, nil
}
