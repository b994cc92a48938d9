// Package expr evaluates integer arithmetic expressions for the eval
// builtin. Arithmetic is 32-bit two's-complement and wraps on overflow.
package expr

import (
	"errors"
	"fmt"
)

var ErrDivideByZero = errors.New("division by zero")

// Eval parses and evaluates src. Literals may be decimal, hexadecimal
// (0x), binary (0b) or octal (leading 0). Exponentiation is
// right-associative; all other binary operators are left-associative
// with conventional precedence.
func Eval(src string) (int32, error) {
	p := &parser{src: src}
	v, err := p.parseBinary(0)
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q in expression %q", p.src[p.pos:], p.src)
	}
	return v, nil
}

type parser struct {
	src string
	pos int
}

type opInfo struct {
	prec       int
	rightAssoc bool
}

// Two-character operators must be matched before their one-character
// prefixes.
var binaryOps = []struct {
	tok  string
	info opInfo
}{
	{"**", opInfo{11, true}},
	{"<<", opInfo{8, false}},
	{">>", opInfo{8, false}},
	{"<=", opInfo{7, false}},
	{">=", opInfo{7, false}},
	{"==", opInfo{6, false}},
	{"!=", opInfo{6, false}},
	{"&&", opInfo{2, false}},
	{"||", opInfo{1, false}},
	{"<", opInfo{7, false}},
	{">", opInfo{7, false}},
	{"+", opInfo{9, false}},
	{"-", opInfo{9, false}},
	{"*", opInfo{10, false}},
	{"/", opInfo{10, false}},
	{"%", opInfo{10, false}},
	{"&", opInfo{5, false}},
	{"^", opInfo{4, false}},
	{"|", opInfo{3, false}},
}

func (p *parser) peekBinary() (string, opInfo) {
	p.skipSpace()
	rest := p.src[p.pos:]
	for _, op := range binaryOps {
		if len(rest) >= len(op.tok) && rest[:len(op.tok)] == op.tok {
			// Avoid treating the first half of "&&" or "||" as the
			// bitwise operator.
			if (op.tok == "&" && len(rest) > 1 && rest[1] == '&') ||
				(op.tok == "|" && len(rest) > 1 && rest[1] == '|') {
				continue
			}
			return op.tok, op.info
		}
	}
	return "", opInfo{}
}

func (p *parser) parseBinary(minPrec int) (int32, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		tok, info := p.peekBinary()
		if tok == "" || info.prec < minPrec {
			return lhs, nil
		}
		p.pos += len(tok)
		next := info.prec + 1
		if info.rightAssoc {
			next = info.prec
		}
		rhs, err := p.parseBinary(next)
		if err != nil {
			return 0, err
		}
		lhs, err = apply(tok, lhs, rhs)
		if err != nil {
			return 0, err
		}
	}
}

func (p *parser) parseUnary() (int32, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, errors.New("unexpected end of expression")
	}
	switch p.src[p.pos] {
	case '+':
		p.pos++
		return p.parseUnary()
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '~':
		p.pos++
		v, err := p.parseUnary()
		return ^v, err
	case '!':
		p.pos++
		v, err := p.parseUnary()
		return bool01(v == 0), err
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (int32, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, errors.New("unexpected end of expression")
	}
	if p.src[p.pos] == '(' {
		p.pos++
		v, err := p.parseBinary(0)
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != ')' {
			return 0, fmt.Errorf("missing ')' in expression %q", p.src)
		}
		p.pos++
		return v, nil
	}
	if isDigit(p.src[p.pos]) {
		return p.parseNumber()
	}
	return 0, fmt.Errorf("bad expression %q", p.src)
}

func (p *parser) parseNumber() (int32, error) {
	base := uint32(10)
	digits := 0
	var acc uint32
	if p.src[p.pos] == '0' && p.pos+1 < len(p.src) {
		switch p.src[p.pos+1] {
		case 'x', 'X':
			base = 16
			p.pos += 2
		case 'b', 'B':
			base = 2
			p.pos += 2
		default:
			if isDigit(p.src[p.pos+1]) {
				base = 8
				p.pos++
			}
		}
	}
	for p.pos < len(p.src) {
		d, ok := digitVal(p.src[p.pos])
		if !ok || d >= base {
			break
		}
		acc = acc*base + d
		digits++
		p.pos++
	}
	if digits == 0 {
		return 0, fmt.Errorf("bad numeric literal in expression %q", p.src)
	}
	return int32(acc), nil
}

func apply(op string, a, b int32) (int32, error) {
	switch op {
	case "**":
		if b < 0 {
			return 0, fmt.Errorf("negative exponent %d", b)
		}
		r := int32(1)
		for i := int32(0); i < b; i++ {
			r *= a
		}
		return r, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a % b, nil
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "<<":
		return a << (uint32(b) & 31), nil
	case ">>":
		return a >> (uint32(b) & 31), nil
	case "<":
		return bool01(a < b), nil
	case "<=":
		return bool01(a <= b), nil
	case ">":
		return bool01(a > b), nil
	case ">=":
		return bool01(a >= b), nil
	case "==":
		return bool01(a == b), nil
	case "!=":
		return bool01(a != b), nil
	case "&":
		return a & b, nil
	case "^":
		return a ^ b, nil
	case "|":
		return a | b, nil
	case "&&":
		return bool01(a != 0 && b != 0), nil
	case "||":
		return bool01(a != 0 || b != 0), nil
	}
	return 0, fmt.Errorf("unknown operator %q", op)
}

func bool01(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func digitVal(b byte) (uint32, bool) {
	switch {
	case b >= '0' && b <= '9':
		return uint32(b - '0'), true
	case b >= 'a' && b <= 'f':
		return uint32(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return uint32(b-'A') + 10, true
	}
	return 0, false
}
