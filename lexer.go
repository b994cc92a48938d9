package m4

import "fmt"

// Default delimiters. Quotes and comments are reconfigurable at runtime
// via changequote/changecom; changes apply only to text scanned after
// the change.
const (
	defaultQuoteOpen    = "`"
	defaultQuoteClose   = "'"
	defaultCommentOpen  = "#"
	defaultCommentClose = "\n"
)

type atomKind int

const (
	atomEOF atomKind = iota
	atomText
	atomQuoted  // delimiters stripped, never rescanned
	atomComment // delimiters included, never rescanned
	atomName
)

type atom struct {
	kind atomKind
	text []byte
}

// LexError is a fatal tokenization failure: an unterminated quote or
// comment, or end of input in the middle of an argument list.
type LexError struct {
	File string
	Line int
	Msg  string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// chunk is one pending input segment. Chunks with a file name track the
// physical input position; rescanned macro expansions do not. A chunk
// with endsCall set closes one level of macro nesting when exhausted.
type chunk struct {
	data     []byte
	pos      int
	file     string
	line     int
	endsCall bool
}

// lexer owns the input: a LIFO stack of chunks where pushed-back
// expansion text and included files take priority over whatever pushed
// them. Tokens may span chunk boundaries, which is how text generated
// by a macro joins seamlessly with the input that follows the call.
type lexer struct {
	stack []*chunk

	quoteOpen    []byte
	quoteClose   []byte
	commentOpen  []byte
	commentClose []byte

	// Position of the start of the most recent atom, for diagnostics
	// and line synchronization.
	atomFile string
	atomLine int

	lastFile string
	lastLine int

	onEndCall func()
}

func newLexer() *lexer {
	return &lexer{
		quoteOpen:    []byte(defaultQuoteOpen),
		quoteClose:   []byte(defaultQuoteClose),
		commentOpen:  []byte(defaultCommentOpen),
		commentClose: []byte(defaultCommentClose),
	}
}

func (l *lexer) pushSource(name string, data []byte) {
	l.stack = append(l.stack, &chunk{data: data, file: name, line: 1})
}

func (l *lexer) pushText(data []byte, endsCall bool) {
	l.stack = append(l.stack, &chunk{data: data, endsCall: endsCall})
}

func (l *lexer) reset() {
	l.stack = nil
}

// position reports the current physical input location: the topmost
// position-tracking chunk, or the last such position seen.
func (l *lexer) position() (string, int) {
	for i := len(l.stack) - 1; i >= 0; i-- {
		if l.stack[i].file != "" {
			return l.stack[i].file, l.stack[i].line
		}
	}
	return l.lastFile, l.lastLine
}

func (l *lexer) next() (byte, bool) {
	for n := len(l.stack); n > 0; n = len(l.stack) {
		top := l.stack[n-1]
		if top.pos >= len(top.data) {
			l.stack = l.stack[:n-1]
			if top.endsCall && l.onEndCall != nil {
				l.onEndCall()
			}
			continue
		}
		b := top.data[top.pos]
		top.pos++
		if top.file != "" {
			l.lastFile, l.lastLine = top.file, top.line
			if b == '\n' {
				top.line++
			}
		}
		return b, true
	}
	return 0, false
}

func (l *lexer) peek(off int) (byte, bool) {
	for i := len(l.stack) - 1; i >= 0; i-- {
		c := l.stack[i]
		remain := len(c.data) - c.pos
		if remain <= 0 {
			continue
		}
		if off < remain {
			return c.data[c.pos+off], true
		}
		off -= remain
	}
	return 0, false
}

func (l *lexer) peekSeq(seq []byte) bool {
	if len(seq) == 0 {
		return false
	}
	for i, want := range seq {
		b, ok := l.peek(i)
		if !ok || b != want {
			return false
		}
	}
	return true
}

func (l *lexer) skip(n int) {
	for i := 0; i < n; i++ {
		l.next()
	}
}

// scan produces the next atom. Priority at each position: quote open,
// comment open, identifier, plain text.
func (l *lexer) scan() (atom, error) {
	l.atomFile, l.atomLine = l.position()
	b, ok := l.peek(0)
	if !ok {
		return atom{kind: atomEOF}, nil
	}
	if l.peekSeq(l.quoteOpen) {
		text, err := l.scanQuote(false)
		if err != nil {
			return atom{}, err
		}
		return atom{kind: atomQuoted, text: text}, nil
	}
	if l.peekSeq(l.commentOpen) {
		text, err := l.scanComment()
		if err != nil {
			return atom{}, err
		}
		return atom{kind: atomComment, text: text}, nil
	}
	if isNameStart(b) {
		return atom{kind: atomName, text: l.scanName()}, nil
	}
	return atom{kind: atomText, text: l.scanText()}, nil
}

// scanQuote consumes a balanced quoted string. Nested quote pairs of
// the current delimiters are tracked; with raw set the delimiters are
// kept in the result (argument collection), otherwise the outermost
// pair is stripped.
func (l *lexer) scanQuote(raw bool) ([]byte, error) {
	file, line := l.position()
	var out []byte
	if raw {
		out = append(out, l.quoteOpen...)
	}
	l.skip(len(l.quoteOpen))
	depth := 1
	for {
		if l.peekSeq(l.quoteClose) {
			depth--
			if depth == 0 {
				if raw {
					out = append(out, l.quoteClose...)
				}
				l.skip(len(l.quoteClose))
				return out, nil
			}
			out = append(out, l.quoteClose...)
			l.skip(len(l.quoteClose))
			continue
		}
		if l.peekSeq(l.quoteOpen) {
			depth++
			out = append(out, l.quoteOpen...)
			l.skip(len(l.quoteOpen))
			continue
		}
		b, ok := l.next()
		if !ok {
			return nil, &LexError{File: file, Line: line, Msg: "end of file in string"}
		}
		out = append(out, b)
	}
}

// scanComment consumes a comment verbatim, delimiters included. When
// the close delimiter is a newline, end of input terminates the comment
// without error; any other close delimiter must be present.
func (l *lexer) scanComment() ([]byte, error) {
	file, line := l.position()
	out := append([]byte(nil), l.commentOpen...)
	l.skip(len(l.commentOpen))
	for {
		if l.peekSeq(l.commentClose) {
			out = append(out, l.commentClose...)
			l.skip(len(l.commentClose))
			return out, nil
		}
		b, ok := l.next()
		if !ok {
			if string(l.commentClose) == "\n" {
				return out, nil
			}
			return nil, &LexError{File: file, Line: line, Msg: "end of file in comment"}
		}
		out = append(out, b)
	}
}

func (l *lexer) scanName() []byte {
	var out []byte
	for {
		b, ok := l.peek(0)
		if !ok || !isNameChar(b) {
			return out
		}
		l.next()
		out = append(out, b)
	}
}

// scanText consumes the longest run of bytes that cannot begin a quote,
// comment or macro name. Runs stop after a newline so that line
// synchronization sees at most one input line per atom. A word starting
// with a digit is consumed whole: "5foo" is plain text, not the macro
// foo with a 5 in front.
func (l *lexer) scanText() []byte {
	var out []byte
	for {
		b, ok := l.peek(0)
		if !ok || isNameStart(b) {
			return out
		}
		if l.peekSeq(l.quoteOpen) || l.peekSeq(l.commentOpen) {
			return out
		}
		l.next()
		out = append(out, b)
		if b == '\n' {
			return out
		}
		if b >= '0' && b <= '9' {
			for {
				c, ok := l.peek(0)
				if !ok || !isNameChar(c) {
					break
				}
				l.next()
				out = append(out, c)
			}
		}
	}
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

func isNameChar(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}

func validName(s string) bool {
	if s == "" || !isNameStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isNameChar(s[i]) {
			return false
		}
	}
	return true
}
