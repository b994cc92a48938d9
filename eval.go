package m4

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// eval is the driving loop: it consumes atoms until the input (source
// plus pushback) is exhausted, the exit flag is raised, or a fatal
// error occurs. Rescanning is realized by pushing generated text onto
// the lexer's chunk stack, so expansion depth never grows the native
// call stack.
func (e *Engine) eval() error {
	for {
		if e.stop || e.exitSet {
			return nil
		}
		if e.ioErr != nil {
			return e.ioErr
		}
		a, err := e.lex.scan()
		if err != nil {
			return err
		}
		switch a.kind {
		case atomEOF:
			return nil
		case atomName:
			if err := e.invoke(string(a.text)); err != nil {
				return err
			}
		default:
			// Plain text, quoted literals and comments go to the
			// active diversion verbatim. Quoted and comment atoms are
			// never rescanned; this is how quoting suppresses exactly
			// one expansion pass.
			e.emit(a.text)
		}
	}
}

// invoke handles a macro-name atom. Undefined names pass through
// verbatim, leaving any following parenthesis in the stream as plain
// text.
func (e *Engine) invoke(name string) error {
	def := e.table.lookup(name)
	if def == nil {
		e.emit([]byte(name))
		return nil
	}
	var args [][]byte
	if b, ok := e.lex.peek(0); ok && b == '(' {
		var err error
		args, err = e.collectArgs()
		if err != nil {
			return err
		}
	}
	return e.apply(def, name, args)
}

// apply performs one macro call: nesting accounting, tracing, then
// builtin dispatch or textual substitution, with the result pushed
// back for rescanning.
func (e *Engine) apply(def *definition, name string, args [][]byte) error {
	e.nesting++
	if limit := e.opts.NestingLimit; limit > 0 && e.nesting > limit {
		file, line := e.lex.position()
		return fmt.Errorf("%s:%d: %w while expanding %q", file, line, ErrNestingLimit, name)
	}
	if e.traceAll || e.trace[name] {
		if len(args) == 0 {
			fmt.Fprintf(e.diag, "m4trace: -%d- %s\n", e.nesting, name)
		} else {
			fmt.Fprintf(e.diag, "m4trace: -%d- %s(%s)\n", e.nesting, name, bytes.Join(args, []byte(", ")))
		}
	}
	if def.builtin != "" {
		exp, err := e.dispatch(def.builtin, name, args)
		if err != nil {
			return err
		}
		e.rescan(exp)
		return nil
	}
	e.rescan(def.expand(name, args))
	return nil
}

// rescan queues expansion text ahead of the remaining input and closes
// the nesting level once that text has been consumed.
func (e *Engine) rescan(text []byte) {
	if len(text) == 0 {
		e.nesting--
		return
	}
	e.lex.pushText(text, true)
}

// collectArgs consumes a parenthesized argument list: comma-separated
// at depth one, paren-balanced, quote- and comment-aware. Arguments
// are kept as raw unexpanded bytes (quotes included); unquoted leading
// whitespace of each argument is skipped.
func (e *Engine) collectArgs() ([][]byte, error) {
	file, line := e.lex.position()
	e.lex.next() // the '('
	var args [][]byte
	var cur []byte
	depth := 1
	skipWS := true
	for {
		if skipWS {
			for {
				b, ok := e.lex.peek(0)
				if !ok || (b != ' ' && b != '\t' && b != '\n' && b != '\r') {
					break
				}
				e.lex.next()
			}
			skipWS = false
		}
		if e.lex.peekSeq(e.lex.quoteOpen) {
			quoted, err := e.lex.scanQuote(true)
			if err != nil {
				return nil, err
			}
			cur = append(cur, quoted...)
			continue
		}
		if e.lex.peekSeq(e.lex.commentOpen) {
			comment, err := e.lex.scanComment()
			if err != nil {
				return nil, err
			}
			cur = append(cur, comment...)
			continue
		}
		b, ok := e.lex.next()
		if !ok {
			return nil, &LexError{File: file, Line: line, Msg: "end of file in argument list"}
		}
		switch {
		case b == '(':
			depth++
			cur = append(cur, b)
		case b == ')':
			depth--
			if depth == 0 {
				return append(args, cur), nil
			}
			cur = append(cur, b)
		case b == ',' && depth == 1:
			args = append(args, cur)
			cur = nil
			skipWS = true
		default:
			cur = append(cur, b)
		}
	}
}

// expandText fully expands raw bytes in isolation: a builtin uses this
// on the arguments it inspects. The surrounding input is set aside so
// the expansion cannot consume past the argument's own text; table,
// diversion and delimiter side effects still apply.
func (e *Engine) expandText(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	savedStack := e.lex.stack
	savedCapture := e.capture
	e.lex.stack = nil
	var buf bytes.Buffer
	e.capture = &buf
	e.lex.pushText(raw, false)
	if err := e.eval(); err != nil {
		e.errorf("%v", err)
	}
	e.lex.stack = savedStack
	e.capture = savedCapture
	return buf.Bytes()
}

func (e *Engine) expandString(raw []byte) string {
	return string(e.expandText(raw))
}

// finalize flushes remaining diversions in ascending order, then
// drains the wrap queue to fixpoint: each entry is rescanned in full
// and may register further entries. An exit request raised while
// draining stops the remaining entries; the flags raised during the
// main scan do not.
func (e *Engine) finalize() {
	e.flushDiversions()
	for len(e.wrap) > 0 && e.ioErr == nil {
		text := e.wrap[0]
		e.wrap = e.wrap[1:]
		e.lex.reset()
		e.stop = false
		wasExit := e.exitSet
		e.exitSet = false
		e.lex.pushText(text, false)
		if err := e.eval(); err != nil {
			fmt.Fprintf(e.diag, "m4: %v\n", err)
			e.failed = true
			e.lex.reset()
		}
		stopDrain := e.exitSet
		e.exitSet = e.exitSet || wasExit
		if stopDrain {
			break
		}
	}
	e.flushDiversions()
}

func (e *Engine) flushDiversions() {
	for _, id := range e.div.ids() {
		e.writeRaw(e.div.take(id))
	}
}

// undivertInto appends a buffer's contents to the currently active
// diversion and clears it. Undiverted text is not rescanned. The
// current diversion cannot be undiverted into itself.
func (e *Engine) undivertInto(id int) {
	if id <= 0 || id == e.div.current {
		return
	}
	text := e.div.take(id)
	if len(text) == 0 {
		return
	}
	switch {
	case e.capture != nil:
		e.capture.Write(text)
	case e.div.current == 0:
		e.writeRaw(text)
	case e.div.current < 0:
		// discarded
	default:
		e.div.buffer(e.div.current).Write(text)
	}
}

// readInclude resolves a path the way the include builtin searches:
// absolute paths as-is, then relative to the including file's
// directory, then the configured include directories.
func (e *Engine) readInclude(path string) ([]byte, string, error) {
	resolved, err := e.resolveInclude(path)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(resolved)
	return data, resolved, err
}

func (e *Engine) resolveInclude(path string) (string, error) {
	if filepath.IsAbs(path) {
		if fileExists(path) {
			return filepath.Clean(path), nil
		}
		return "", os.ErrNotExist
	}
	if file, _ := e.lex.position(); file != "" && file != "stdin" {
		cand := filepath.Join(filepath.Dir(file), path)
		if fileExists(cand) {
			return filepath.Clean(cand), nil
		}
	}
	if fileExists(path) {
		return filepath.Clean(path), nil
	}
	for _, dir := range e.opts.IncludeDirs {
		cand := filepath.Join(dir, path)
		if fileExists(cand) {
			return filepath.Clean(cand), nil
		}
	}
	return "", fmt.Errorf("cannot resolve include %q", path)
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// parseNum interprets an expanded argument as a decimal integer,
// reporting a warning and returning the fallback on anything else.
func (e *Engine) parseNum(op string, s string, fallback int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	neg := false
	i := 0
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		i++
	}
	n := 0
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			e.warnf("non-numeric argument %q to builtin %q", s, op)
			return fallback
		}
		n = n*10 + int(s[i]-'0')
	}
	if i == 1 && (s[0] == '-' || s[0] == '+') {
		e.warnf("non-numeric argument %q to builtin %q", s, op)
		return fallback
	}
	if neg {
		return -n
	}
	return n
}
