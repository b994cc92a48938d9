// Package m4 implements a macro processor in the style of the classic
// m4 language: input text interleaved with macro invocations is
// expanded by recursive substitution, builtin operations and
// rescanning of generated text. The engine is driven through Run;
// option parsing, input selection and exit-code handling belong to the
// caller (see cmd/m4).
package m4

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNestingLimit is reported when expansion depth exceeds the
// configured bound.
var ErrNestingLimit = errors.New("recursion limit exceeded")

// Options configures an Engine before any input is read.
type Options struct {
	// Define holds name[=value] seed definitions, applied in order
	// before input is read. A bare name defines it to the empty string.
	Define []string
	// Undefine removes a name's entire definition stack before input
	// is read (after Define is applied).
	Undefine []string
	// Trace pre-populates the set of traced macro names.
	Trace []string
	// NestingLimit bounds expansion depth; 0 means unlimited.
	NestingLimit int
	// SyncLines enables "#line NUM "FILE"" markers in the output
	// whenever the input position advances discontinuously.
	SyncLines bool
	// FatalWarnings escalates diagnostics: 1 makes warnings fail the
	// run, 2 additionally stops scanning at the first one.
	FatalWarnings int
	// Traditional suppresses the extended builtin catalog (patsubst,
	// regexp, indir, builtin).
	Traditional bool
	// IncludeDirs is searched, after the including file's directory,
	// to resolve include and sinclude arguments.
	IncludeDirs []string
}

// Input is one named input source.
type Input struct {
	Name   string
	Reader io.Reader
}

// Engine is the complete mutable state of one run: macro table,
// diversions, delimiter configuration, nesting counter, trace set,
// wrap queue and exit flag. It is not safe for concurrent use; the
// model is inherently sequential.
type Engine struct {
	opts  Options
	lex   *lexer
	table *macroTable
	div   *diversions

	wrap     [][]byte
	trace    map[string]bool
	traceAll bool

	nesting  int
	sysval   int
	exitCode int
	exitSet  bool
	failed   bool
	stop     bool

	capture *bytes.Buffer
	sink    io.Writer
	diag    io.Writer
	ioErr   error

	syncFile string
	syncLine int
	outBOL   bool
}

// New seeds an Engine: the builtin catalog for the selected dialect,
// then the caller's definitions, removals and trace names.
func New(opts Options) *Engine {
	e := &Engine{
		opts:  opts,
		lex:   newLexer(),
		table: newMacroTable(),
		div:   newDiversions(),
		trace: make(map[string]bool),
		diag:  io.Discard,
	}
	e.lex.onEndCall = func() { e.nesting-- }
	for name, op := range builtins {
		if op.extended && opts.Traditional {
			continue
		}
		e.table.define(name, builtinDefinition(name))
	}
	for _, d := range opts.Define {
		name, value := splitDefine(d)
		if validName(name) {
			e.table.define(name, userDefinition([]byte(value)))
		}
	}
	for _, name := range opts.Undefine {
		e.table.undefine(name)
	}
	for _, name := range opts.Trace {
		e.trace[name] = true
	}
	return e
}

func splitDefine(s string) (string, string) {
	if i := strings.IndexByte(s, '='); i >= 0 {
		return s[:i], s[i+1:]
	}
	return s, ""
}

// Run evaluates the inputs in order and finalizes: remaining diversions
// are appended to stdout in ascending numeric order, then the wrap
// queue is drained to fixpoint. The returned status is the exit code
// the process should report: the one requested by m4exit, else 1 on
// any error, else 0. A source read failure skips finalization.
func (e *Engine) Run(inputs []Input, stdout, stderr io.Writer) (int, error) {
	e.sink = stdout
	e.diag = stderr
	e.outBOL = true

	var fatal error
	for _, in := range inputs {
		data, err := io.ReadAll(in.Reader)
		if err != nil {
			fatal = fmt.Errorf("reading %s: %w", in.Name, err)
			fmt.Fprintf(stderr, "m4: %v\n", fatal)
			return 1, fatal
		}
		e.lex.pushSource(in.Name, data)
		if err := e.eval(); err != nil {
			fatal = err
			break
		}
		if e.stop || e.exitSet {
			break
		}
	}
	if fatal != nil {
		fmt.Fprintf(stderr, "m4: %v\n", fatal)
		e.failed = true
		e.lex.reset()
	}
	if e.ioErr == nil {
		e.finalize()
	}
	if e.ioErr != nil {
		if fatal == nil {
			fatal = e.ioErr
			fmt.Fprintf(stderr, "m4: %v\n", fatal)
		}
		e.failed = true
	}

	switch {
	case e.exitSet:
		return e.exitCode, fatal
	case e.failed:
		return 1, fatal
	}
	return 0, nil
}

// warnf reports a warning; under escalation it marks the run failed
// (level 1) or stops scanning (level 2).
func (e *Engine) warnf(format string, args ...any) {
	file, line := e.lex.position()
	fmt.Fprintf(e.diag, "m4:%s:%d: warning: %s\n", file, line, fmt.Sprintf(format, args...))
	if e.opts.FatalWarnings >= 1 {
		e.failed = true
	}
	if e.opts.FatalWarnings >= 2 {
		e.stop = true
	}
}

// errorf reports a recoverable error: scanning continues but the run
// is marked failed.
func (e *Engine) errorf(format string, args ...any) {
	file, line := e.lex.position()
	fmt.Fprintf(e.diag, "m4:%s:%d: %s\n", file, line, fmt.Sprintf(format, args...))
	e.failed = true
	if e.opts.FatalWarnings >= 2 {
		e.stop = true
	}
}

// emit writes terminal output: into the capture buffer during argument
// pre-expansion, otherwise into the active diversion.
func (e *Engine) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	if e.capture != nil {
		e.capture.Write(p)
		return
	}
	switch {
	case e.div.current == 0:
		e.writeOut(p)
	case e.div.current < 0:
		// discarded
	default:
		e.div.buffer(e.div.current).Write(p)
	}
}

// writeOut sends bytes to the final sink, inserting #line markers when
// line synchronization is enabled and the input position no longer
// matches the output position.
func (e *Engine) writeOut(p []byte) {
	if e.ioErr != nil {
		return
	}
	if !e.opts.SyncLines {
		if _, err := e.sink.Write(p); err != nil {
			e.ioErr = fmt.Errorf("writing output: %w", err)
		}
		return
	}
	var buf bytes.Buffer
	file, line := e.lex.atomFile, e.lex.atomLine
	for _, b := range p {
		if e.outBOL {
			if file != e.syncFile || line != e.syncLine {
				fmt.Fprintf(&buf, "#line %d \"%s\"\n", line, file)
				e.syncFile, e.syncLine = file, line
			}
			e.outBOL = false
		}
		buf.WriteByte(b)
		if b == '\n' {
			line++
			e.syncLine++
			e.outBOL = true
		}
	}
	if _, err := e.sink.Write(buf.Bytes()); err != nil {
		e.ioErr = fmt.Errorf("writing output: %w", err)
	}
}

// writeRaw bypasses diversion and sync-line handling; used when
// flushing diverted text, which keeps the position it was written at.
func (e *Engine) writeRaw(p []byte) {
	if e.ioErr != nil || len(p) == 0 {
		return
	}
	if _, err := e.sink.Write(p); err != nil {
		e.ioErr = fmt.Errorf("writing output: %w", err)
	}
}
