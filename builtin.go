package m4

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/macrotext/m4/internal/expr"
)

// builtinHandler receives the raw (unexpanded) argument list and
// decides per-argument whether to pre-expand. Whatever it returns is
// pushed back for rescanning. Missing arguments read as empty; excess
// arguments are ignored.
type builtinHandler func(e *Engine, name string, args [][]byte) ([]byte, error)

type builtinOp struct {
	fn       builtinHandler
	extended bool
}

var builtins map[string]builtinOp

// Filled in init to let handlers like indir and builtin refer back to
// the catalog.
func init() {
	builtins = map[string]builtinOp{
		"define":      {fn: bltDefine},
		"undefine":    {fn: bltUndefine},
		"pushdef":     {fn: bltPushdef},
		"popdef":      {fn: bltPopdef},
		"defn":        {fn: bltDefn},
		"ifdef":       {fn: bltIfdef},
		"ifelse":      {fn: bltIfelse},
		"shift":       {fn: bltShift},
		"dnl":         {fn: bltDnl},
		"divert":      {fn: bltDivert},
		"divnum":      {fn: bltDivnum},
		"undivert":    {fn: bltUndivert},
		"dumpdef":     {fn: bltDumpdef},
		"include":     {fn: bltInclude},
		"sinclude":    {fn: bltSinclude},
		"translit":    {fn: bltTranslit},
		"len":         {fn: bltLen},
		"substr":      {fn: bltSubstr},
		"index":       {fn: bltIndex},
		"incr":        {fn: bltIncr},
		"decr":        {fn: bltDecr},
		"eval":        {fn: bltEval},
		"syscmd":      {fn: bltSyscmd},
		"esyscmd":     {fn: bltEsyscmd},
		"sysval":      {fn: bltSysval},
		"m4wrap":      {fn: bltM4wrap},
		"changequote": {fn: bltChangequote},
		"changecom":   {fn: bltChangecom},
		"traceon":     {fn: bltTraceon},
		"traceoff":    {fn: bltTraceoff},
		"errprint":    {fn: bltErrprint},
		"m4exit":      {fn: bltM4exit},

		"patsubst": {fn: bltPatsubst, extended: true},
		"regexp":   {fn: bltRegexp, extended: true},
		"indir":    {fn: bltIndir, extended: true},
		"builtin":  {fn: bltBuiltin, extended: true},
	}
}

func (e *Engine) dispatch(op, name string, args [][]byte) ([]byte, error) {
	b, ok := builtins[op]
	if !ok {
		return nil, fmt.Errorf("no handler for builtin %q", op)
	}
	return b.fn(e, name, args)
}

func arg(args [][]byte, i int) []byte {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// quote wraps text in the current quote delimiters so that rescanning
// it yields the text with one expansion pass suppressed.
func (e *Engine) quote(text []byte) []byte {
	if len(e.lex.quoteOpen) == 0 {
		return append([]byte(nil), text...)
	}
	out := append([]byte(nil), e.lex.quoteOpen...)
	out = append(out, text...)
	return append(out, e.lex.quoteClose...)
}

// unquote strips one level of quoting from raw argument text: the
// delimiters of each top-level quoted region are dropped, nested pairs
// kept. This is what turns the body argument of a definition into the
// text that will be substituted when the name is invoked.
func (e *Engine) unquote(raw []byte) []byte {
	open, close := e.lex.quoteOpen, e.lex.quoteClose
	if len(open) == 0 || !bytes.Contains(raw, open) {
		return append([]byte(nil), raw...)
	}
	var out []byte
	for i := 0; i < len(raw); {
		if !bytes.HasPrefix(raw[i:], open) {
			out = append(out, raw[i])
			i++
			continue
		}
		i += len(open)
		depth := 1
		for i < len(raw) {
			if bytes.HasPrefix(raw[i:], close) {
				i += len(close)
				depth--
				if depth == 0 {
					break
				}
				out = append(out, close...)
				continue
			}
			if bytes.HasPrefix(raw[i:], open) {
				i += len(open)
				depth++
				out = append(out, open...)
				continue
			}
			out = append(out, raw[i])
			i++
		}
	}
	return out
}

// The name argument of a definition operation is expanded. The body
// keeps its macro calls unexpanded but loses one quote level, so
// invoking the name later behaves as if the body had been rescanned
// exactly once.
func bltDefine(e *Engine, name string, args [][]byte) ([]byte, error) {
	mname := e.expandString(arg(args, 0))
	if !validName(mname) {
		e.warnf("%s: invalid macro name %q", name, mname)
		return nil, nil
	}
	if e.table.define(mname, userDefinition(e.unquote(arg(args, 1)))) {
		e.warnf("%s: redefining %q", name, mname)
	}
	return nil, nil
}

func bltPushdef(e *Engine, name string, args [][]byte) ([]byte, error) {
	mname := e.expandString(arg(args, 0))
	if !validName(mname) {
		e.warnf("%s: invalid macro name %q", name, mname)
		return nil, nil
	}
	e.table.pushdef(mname, userDefinition(e.unquote(arg(args, 1))))
	return nil, nil
}

func bltUndefine(e *Engine, _ string, args [][]byte) ([]byte, error) {
	for i := range args {
		e.table.undefine(e.expandString(args[i]))
	}
	return nil, nil
}

func bltPopdef(e *Engine, _ string, args [][]byte) ([]byte, error) {
	for i := range args {
		e.table.popdef(e.expandString(args[i]))
	}
	return nil, nil
}

// defn of a user macro yields its body quoted, suppressing one rescan
// so the body text survives verbatim. Builtin bindings have no textual
// form; copy those with define(`new', `builtin(`op', $@)') instead.
func bltDefn(e *Engine, name string, args [][]byte) ([]byte, error) {
	mname := e.expandString(arg(args, 0))
	def := e.table.lookup(mname)
	switch {
	case def == nil:
		return nil, nil
	case def.builtin != "":
		e.warnf("%s: cannot copy builtin %q", name, mname)
		return nil, nil
	}
	return e.quote(def.body), nil
}

// ifdef expands only its name argument; the branches stay raw so the
// untaken one is never evaluated.
func bltIfdef(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if e.table.lookup(e.expandString(arg(args, 0))) != nil {
		return arg(args, 1), nil
	}
	return arg(args, 2), nil
}

// ifelse compares expanded pairs but emits the selected branch
// unexpanded; chained forms step through triples with an optional
// trailing else.
func bltIfelse(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if len(args) < 3 {
		return nil, nil
	}
	i := 0
	for len(args)-i >= 3 {
		if bytes.Equal(e.expandText(args[i]), e.expandText(args[i+1])) {
			return args[i+2], nil
		}
		i += 3
	}
	if len(args)-i == 1 {
		return args[i], nil
	}
	return nil, nil
}

func bltShift(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if len(args) <= 1 {
		return nil, nil
	}
	return bytes.Join(args[1:], []byte(",")), nil
}

// dnl discards input through and including the next newline.
func bltDnl(e *Engine, _ string, _ [][]byte) ([]byte, error) {
	for {
		b, ok := e.lex.next()
		if !ok || b == '\n' {
			return nil, nil
		}
	}
}

func bltDivert(e *Engine, name string, args [][]byte) ([]byte, error) {
	e.div.current = e.parseNum(name, e.expandString(arg(args, 0)), 0)
	return nil, nil
}

func bltDivnum(e *Engine, _ string, _ [][]byte) ([]byte, error) {
	return []byte(strconv.Itoa(e.div.current)), nil
}

func bltUndivert(e *Engine, name string, args [][]byte) ([]byte, error) {
	if len(args) == 0 {
		for _, id := range e.div.ids() {
			e.undivertInto(id)
		}
		return nil, nil
	}
	for i := range args {
		e.undivertInto(e.parseNum(name, e.expandString(args[i]), 0))
	}
	return nil, nil
}

func bltDumpdef(e *Engine, name string, args [][]byte) ([]byte, error) {
	var names []string
	if len(args) == 0 {
		names = e.table.names()
	} else {
		for i := range args {
			names = append(names, e.expandString(args[i]))
		}
	}
	for _, n := range names {
		def := e.table.lookup(n)
		switch {
		case def == nil:
			e.warnf("%s: undefined macro %q", name, n)
		case def.builtin != "":
			fmt.Fprintf(e.diag, "%s:\t<%s>\n", n, def.builtin)
		default:
			fmt.Fprintf(e.diag, "%s:\t%s\n", n, e.quote(def.body))
		}
	}
	return nil, nil
}

func bltInclude(e *Engine, name string, args [][]byte) ([]byte, error) {
	return nil, e.include(name, e.expandString(arg(args, 0)), true)
}

func bltSinclude(e *Engine, name string, args [][]byte) ([]byte, error) {
	return nil, e.include(name, e.expandString(arg(args, 0)), false)
}

// include pushes the file as a position-tracking input source, popped
// on end-of-file without disturbing queued pushback text.
func (e *Engine) include(op, path string, required bool) error {
	if path == "" {
		if required {
			e.errorf("%s: empty file name", op)
		}
		return nil
	}
	data, resolved, err := e.readInclude(path)
	if err != nil {
		if required {
			e.errorf("%s: cannot open %q: %v", op, path, err)
		}
		return nil
	}
	e.lex.pushSource(resolved, data)
	return nil
}

func bltTranslit(e *Engine, _ string, args [][]byte) ([]byte, error) {
	s := e.expandText(arg(args, 0))
	from := expandRanges(e.expandText(arg(args, 1)))
	to := expandRanges(e.expandText(arg(args, 2)))
	mapping := make(map[byte]int, len(from))
	for i, c := range from {
		if _, seen := mapping[c]; seen {
			continue
		}
		if i < len(to) {
			mapping[c] = int(to[i])
		} else {
			mapping[c] = -1
		}
	}
	var out []byte
	for _, c := range s {
		m, ok := mapping[c]
		switch {
		case !ok:
			out = append(out, c)
		case m >= 0:
			out = append(out, byte(m))
		}
	}
	return out, nil
}

// expandRanges rewrites a-z style spans in a translit set, in either
// direction.
func expandRanges(set []byte) []byte {
	var out []byte
	for i := 0; i < len(set); i++ {
		if i+2 < len(set) && set[i+1] == '-' {
			lo, hi := set[i], set[i+2]
			if lo <= hi {
				for c := int(lo); c <= int(hi); c++ {
					out = append(out, byte(c))
				}
			} else {
				for c := int(lo); c >= int(hi); c-- {
					out = append(out, byte(c))
				}
			}
			i += 2
			continue
		}
		out = append(out, set[i])
	}
	return out
}

func bltLen(e *Engine, _ string, args [][]byte) ([]byte, error) {
	return []byte(strconv.Itoa(len(e.expandText(arg(args, 0))))), nil
}

func bltSubstr(e *Engine, name string, args [][]byte) ([]byte, error) {
	s := e.expandText(arg(args, 0))
	from := e.parseNum(name, e.expandString(arg(args, 1)), 0)
	length := len(s)
	if len(args) >= 3 {
		length = e.parseNum(name, e.expandString(args[2]), len(s))
	}
	if from < 0 {
		from = 0
	}
	if from > len(s) {
		from = len(s)
	}
	if length < 0 {
		length = 0
	}
	end := from + length
	if end > len(s) {
		end = len(s)
	}
	return s[from:end], nil
}

func bltIndex(e *Engine, _ string, args [][]byte) ([]byte, error) {
	i := bytes.Index(e.expandText(arg(args, 0)), e.expandText(arg(args, 1)))
	return []byte(strconv.Itoa(i)), nil
}

func bltIncr(e *Engine, name string, args [][]byte) ([]byte, error) {
	v := int32(e.parseNum(name, e.expandString(arg(args, 0)), 0))
	return []byte(strconv.FormatInt(int64(v+1), 10)), nil
}

func bltDecr(e *Engine, name string, args [][]byte) ([]byte, error) {
	v := int32(e.parseNum(name, e.expandString(arg(args, 0)), 0))
	return []byte(strconv.FormatInt(int64(v-1), 10)), nil
}

// eval pre-expands its argument and hands it to the expression
// evaluator. Numeric faults are diagnostics, not fatal: the expansion
// falls back to 0 and the run continues.
func bltEval(e *Engine, name string, args [][]byte) ([]byte, error) {
	src := e.expandString(arg(args, 0))
	v, err := expr.Eval(src)
	if err != nil {
		if errors.Is(err, expr.ErrDivideByZero) {
			e.errorf("%s: division by zero in %q", name, src)
		} else {
			e.errorf("%s: %v", name, err)
		}
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(int64(v), 10)), nil
}

func bltSyscmd(e *Engine, _ string, args [][]byte) ([]byte, error) {
	cmd := exec.Command("/bin/sh", "-c", e.expandString(arg(args, 0)))
	cmd.Stdout = e.sink
	cmd.Stderr = e.diag
	e.setSysval(cmd.Run())
	return nil, nil
}

// esyscmd captures the command's standard output; being an expansion
// result, it is rescanned for further macro calls.
func bltEsyscmd(e *Engine, _ string, args [][]byte) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.Command("/bin/sh", "-c", e.expandString(arg(args, 0)))
	cmd.Stdout = &out
	cmd.Stderr = e.diag
	e.setSysval(cmd.Run())
	return out.Bytes(), nil
}

func (e *Engine) setSysval(err error) {
	var exit *exec.ExitError
	switch {
	case err == nil:
		e.sysval = 0
	case errors.As(err, &exit):
		e.sysval = exit.ExitCode()
	default:
		e.errorf("cannot run command: %v", err)
		e.sysval = 127
	}
}

func bltSysval(e *Engine, _ string, _ [][]byte) ([]byte, error) {
	return []byte(strconv.Itoa(e.sysval)), nil
}

func bltM4wrap(e *Engine, _ string, args [][]byte) ([]byte, error) {
	e.wrap = append(e.wrap, e.expandText(arg(args, 0)))
	return nil, nil
}

func bltChangequote(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if len(args) == 0 {
		e.lex.quoteOpen = []byte(defaultQuoteOpen)
		e.lex.quoteClose = []byte(defaultQuoteClose)
		return nil, nil
	}
	open := e.expandText(args[0])
	if len(open) == 0 {
		e.lex.quoteOpen, e.lex.quoteClose = nil, nil
		return nil, nil
	}
	close := e.expandText(arg(args, 1))
	if len(close) == 0 {
		close = []byte(defaultQuoteClose)
	}
	e.lex.quoteOpen, e.lex.quoteClose = open, close
	return nil, nil
}

func bltChangecom(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if len(args) == 0 {
		e.lex.commentOpen, e.lex.commentClose = nil, nil
		return nil, nil
	}
	open := e.expandText(args[0])
	if len(open) == 0 {
		e.lex.commentOpen, e.lex.commentClose = nil, nil
		return nil, nil
	}
	close := e.expandText(arg(args, 1))
	if len(close) == 0 {
		close = []byte(defaultCommentClose)
	}
	e.lex.commentOpen, e.lex.commentClose = open, close
	return nil, nil
}

// Trace membership is consulted when an invocation starts, so toggling
// it never affects a call already in progress.
func bltTraceon(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if len(args) == 0 {
		e.traceAll = true
		return nil, nil
	}
	for i := range args {
		e.trace[e.expandString(args[i])] = true
	}
	return nil, nil
}

func bltTraceoff(e *Engine, _ string, args [][]byte) ([]byte, error) {
	if len(args) == 0 {
		e.traceAll = false
		e.trace = make(map[string]bool)
		return nil, nil
	}
	for i := range args {
		delete(e.trace, e.expandString(args[i]))
	}
	return nil, nil
}

func bltErrprint(e *Engine, _ string, args [][]byte) ([]byte, error) {
	parts := make([]string, len(args))
	for i := range args {
		parts[i] = e.expandString(args[i])
	}
	fmt.Fprint(e.diag, strings.Join(parts, " "))
	return nil, nil
}

// m4exit truncates further scanning; finalization (undivert and wrap
// drain) still runs before the requested status is reported.
func bltM4exit(e *Engine, name string, args [][]byte) ([]byte, error) {
	code := e.parseNum(name, e.expandString(arg(args, 0)), 0)
	if code < 0 || code > 255 {
		e.warnf("%s: exit status %d out of range", name, code)
		code = 1
	}
	e.exitCode = code
	e.exitSet = true
	e.stop = true
	return nil, nil
}

func bltPatsubst(e *Engine, name string, args [][]byte) ([]byte, error) {
	s := e.expandString(arg(args, 0))
	re, err := regexp.Compile(e.expandString(arg(args, 1)))
	if err != nil {
		e.errorf("%s: bad pattern: %v", name, err)
		return nil, nil
	}
	repl := e.expandString(arg(args, 2))
	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(s[last:m[0]])
		b.WriteString(substituteRefs(repl, s, m))
		last = m[1]
	}
	b.WriteString(s[last:])
	return []byte(b.String()), nil
}

// regexp with two arguments yields the index of the first match (-1 if
// none); with a replacement it yields the replacement for the first
// match only.
func bltRegexp(e *Engine, name string, args [][]byte) ([]byte, error) {
	s := e.expandString(arg(args, 0))
	re, err := regexp.Compile(e.expandString(arg(args, 1)))
	if err != nil {
		e.errorf("%s: bad pattern: %v", name, err)
		return nil, nil
	}
	m := re.FindStringSubmatchIndex(s)
	if len(args) < 3 {
		if m == nil {
			return []byte("-1"), nil
		}
		return []byte(strconv.Itoa(m[0])), nil
	}
	if m == nil {
		return nil, nil
	}
	return []byte(substituteRefs(e.expandString(args[2]), s, m)), nil
}

// substituteRefs expands \0-\9 group references and \\ escapes in a
// replacement text against one match.
func substituteRefs(repl, s string, m []int) string {
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		if repl[i] != '\\' || i+1 >= len(repl) {
			b.WriteByte(repl[i])
			continue
		}
		c := repl[i+1]
		switch {
		case c >= '0' && c <= '9':
			g := int(c - '0')
			if 2*g+1 < len(m) && m[2*g] >= 0 {
				b.WriteString(s[m[2*g]:m[2*g+1]])
			}
			i++
		case c == '\\':
			b.WriteByte('\\')
			i++
		default:
			b.WriteByte(repl[i])
		}
	}
	return b.String()
}

func bltIndir(e *Engine, name string, args [][]byte) ([]byte, error) {
	mname := e.expandString(arg(args, 0))
	def := e.table.lookup(mname)
	if def == nil {
		e.errorf("%s: undefined macro %q", name, mname)
		return nil, nil
	}
	return nil, e.apply(def, mname, rest(args))
}

func bltBuiltin(e *Engine, name string, args [][]byte) ([]byte, error) {
	op := e.expandString(arg(args, 0))
	b, ok := builtins[op]
	if !ok || (b.extended && e.opts.Traditional) {
		e.errorf("%s: undefined builtin %q", name, op)
		return nil, nil
	}
	return b.fn(e, op, rest(args))
}

func rest(args [][]byte) [][]byte {
	if len(args) <= 1 {
		return nil
	}
	return args[1:]
}
