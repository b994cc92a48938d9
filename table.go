package m4

import (
	"sort"
	"strconv"
)

// Parameter codes for compiled body segments. Non-negative values are
// positional references ($0 is the invocation name).
const (
	paramLiteral = -1
	paramCount   = -2 // $#
	paramAll     = -3 // $*
	paramQuoted  = -4 // $@
)

type bodySegment struct {
	lit   []byte
	param int
}

// definition is either a builtin binding (builtin != "") or a user
// macro with its raw replacement text and the segments compiled from
// it. The raw text is kept for defn, dumpdef and freezing.
type definition struct {
	builtin  string
	body     []byte
	segments []bodySegment
}

func userDefinition(body []byte) *definition {
	return &definition{body: body, segments: compileBody(body)}
}

func builtinDefinition(op string) *definition {
	return &definition{builtin: op}
}

// compileBody splits a replacement text into literal runs and parameter
// references: $0-$9, $#, $* and $@. A $ followed by anything else is
// literal.
func compileBody(body []byte) []bodySegment {
	var segs []bodySegment
	var lit []byte
	flush := func() {
		if len(lit) > 0 {
			segs = append(segs, bodySegment{lit: lit, param: paramLiteral})
			lit = nil
		}
	}
	for i := 0; i < len(body); i++ {
		b := body[i]
		if b != '$' || i+1 >= len(body) {
			lit = append(lit, b)
			continue
		}
		switch c := body[i+1]; {
		case c >= '0' && c <= '9':
			flush()
			segs = append(segs, bodySegment{param: int(c - '0')})
			i++
		case c == '#':
			flush()
			segs = append(segs, bodySegment{param: paramCount})
			i++
		case c == '*':
			flush()
			segs = append(segs, bodySegment{param: paramAll})
			i++
		case c == '@':
			flush()
			segs = append(segs, bodySegment{param: paramQuoted})
			i++
		default:
			lit = append(lit, b)
		}
	}
	flush()
	return segs
}

// expand substitutes the raw argument texts into the compiled body.
// Substitution is purely textual; the result is expanded only when it
// is rescanned.
func (d *definition) expand(name string, args [][]byte) []byte {
	var out []byte
	for _, seg := range d.segments {
		switch {
		case seg.param == paramLiteral:
			out = append(out, seg.lit...)
		case seg.param == 0:
			out = append(out, name...)
		case seg.param > 0:
			if i := seg.param - 1; i < len(args) {
				out = append(out, args[i]...)
			}
		case seg.param == paramCount:
			out = strconv.AppendInt(out, int64(len(args)), 10)
		default: // $* and $@: the raw arguments, commas restored
			for i, a := range args {
				if i > 0 {
					out = append(out, ',')
				}
				out = append(out, a...)
			}
		}
	}
	return out
}

// macroTable maps each name to an ordered stack of definitions; lookup
// sees only the top entry.
type macroTable struct {
	defs map[string][]*definition
}

func newMacroTable() *macroTable {
	return &macroTable{defs: make(map[string][]*definition)}
}

func (t *macroTable) lookup(name string) *definition {
	stack := t.defs[name]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// define replaces the top definition, leaving anything pushed below it
// in place. It reports whether an existing definition was replaced.
func (t *macroTable) define(name string, d *definition) bool {
	stack := t.defs[name]
	if len(stack) == 0 {
		t.defs[name] = []*definition{d}
		return false
	}
	stack[len(stack)-1] = d
	return true
}

func (t *macroTable) pushdef(name string, d *definition) {
	t.defs[name] = append(t.defs[name], d)
}

// popdef removes the top definition; the name disappears entirely once
// its stack empties. Popping an undefined name is a no-op.
func (t *macroTable) popdef(name string) {
	stack := t.defs[name]
	switch len(stack) {
	case 0:
	case 1:
		delete(t.defs, name)
	default:
		t.defs[name] = stack[:len(stack)-1]
	}
}

func (t *macroTable) undefine(name string) {
	delete(t.defs, name)
}

func (t *macroTable) names() []string {
	names := make([]string, 0, len(t.defs))
	for name := range t.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stack returns a name's definitions bottom to top.
func (t *macroTable) stack(name string) []*definition {
	return t.defs[name]
}
