package m4

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Frozen-state format, private to this implementation: a versioned
// header followed by length-prefixed records, one per line pair.
//
//	V 1
//	Q <len-open> <len-close>   quote delimiters (0 0 = quoting off)
//	C <len-open> <len-close>   comment delimiters (0 0 = comments off)
//	F <len-name> <len-op>      builtin binding
//	T <len-name> <len-body>    user macro
//
// Each record line is followed by the two payloads concatenated and a
// terminating newline; the lengths make any payload byte safe. T and F
// records for one name appear bottom of stack first, so reloading
// re-pushes them in order. The layout round-trips every definition and
// both delimiter pairs; no compatibility with any historical frozen
// format is claimed.

const frozenHeader = "# frozen state for m4\nV 1\n"

// Freeze writes the macro table and delimiter configuration.
func (e *Engine) Freeze(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(frozenHeader)
	writeRecord(bw, 'Q', e.lex.quoteOpen, e.lex.quoteClose)
	writeRecord(bw, 'C', e.lex.commentOpen, e.lex.commentClose)
	for _, name := range e.table.names() {
		for _, def := range e.table.stack(name) {
			if def.builtin != "" {
				writeRecord(bw, 'F', []byte(name), []byte(def.builtin))
				continue
			}
			writeRecord(bw, 'T', []byte(name), def.body)
		}
	}
	return bw.Flush()
}

func writeRecord(bw *bufio.Writer, kind byte, a, b []byte) {
	fmt.Fprintf(bw, "%c %d %d\n", kind, len(a), len(b))
	bw.Write(a)
	bw.Write(b)
	bw.WriteByte('\n')
}

// Reload restores a frozen state on top of the current table: the
// first record seen for a name clears it, later records push. Unknown
// builtin names are skipped with a warning so a state frozen under the
// extended dialect degrades gracefully.
func (e *Engine) Reload(r io.Reader) error {
	br := bufio.NewReader(r)
	version := false
	seen := make(map[string]bool)
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		}
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading frozen state: %w", err)
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" || line[0] == '#' {
			continue
		}
		if line == "V 1" {
			version = true
			continue
		}
		if !version {
			return fmt.Errorf("bad frozen state: unsupported version %q", line)
		}
		var kind byte
		var n1, n2 int
		if _, err := fmt.Sscanf(line, "%c %d %d", &kind, &n1, &n2); err != nil || n1 < 0 || n2 < 0 {
			return fmt.Errorf("bad frozen state record %q", line)
		}
		payload := make([]byte, n1+n2+1)
		if _, err := io.ReadFull(br, payload); err != nil {
			return fmt.Errorf("bad frozen state record %q: %w", line, err)
		}
		if payload[n1+n2] != '\n' {
			return fmt.Errorf("bad frozen state record %q: missing terminator", line)
		}
		a, b := payload[:n1], payload[n1:n1+n2]
		switch kind {
		case 'Q':
			if n1 == 0 {
				e.lex.quoteOpen, e.lex.quoteClose = nil, nil
			} else {
				e.lex.quoteOpen = append([]byte(nil), a...)
				e.lex.quoteClose = append([]byte(nil), b...)
			}
		case 'C':
			if n1 == 0 {
				e.lex.commentOpen, e.lex.commentClose = nil, nil
			} else {
				e.lex.commentOpen = append([]byte(nil), a...)
				e.lex.commentClose = append([]byte(nil), b...)
			}
		case 'F':
			name, op := string(a), string(b)
			if _, ok := builtins[op]; !ok {
				e.warnf("reload: unknown builtin %q for %q", op, name)
				continue
			}
			e.reloadDef(seen, name, builtinDefinition(op))
		case 'T':
			e.reloadDef(seen, string(a), userDefinition(append([]byte(nil), b...)))
		default:
			return fmt.Errorf("bad frozen state record %q", line)
		}
	}
	if !version {
		return fmt.Errorf("bad frozen state: missing version")
	}
	return nil
}

func (e *Engine) reloadDef(seen map[string]bool, name string, def *definition) {
	if !seen[name] {
		seen[name] = true
		e.table.undefine(name)
	}
	e.table.pushdef(name, def)
}
