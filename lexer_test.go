package m4

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type lexAtom struct {
	Kind atomKind
	Text string
}

func scanAll(t *testing.T, l *lexer) []lexAtom {
	t.Helper()
	var out []lexAtom
	for {
		a, err := l.scan()
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if a.kind == atomEOF {
			return out
		}
		out = append(out, lexAtom{Kind: a.kind, Text: string(a.text)})
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []lexAtom
	}{
		{
			name:  "words and separators",
			input: "hello world\n",
			want: []lexAtom{
				{atomName, "hello"},
				{atomText, " "},
				{atomName, "world"},
				{atomText, "\n"},
			},
		},
		{
			name:  "quoted literal with delimiters stripped",
			input: "`quoted' tail",
			want: []lexAtom{
				{atomQuoted, "quoted"},
				{atomText, " "},
				{atomName, "tail"},
			},
		},
		{
			name:  "nested quotes keep inner delimiters",
			input: "``a''",
			want:  []lexAtom{{atomQuoted, "`a'"}},
		},
		{
			name:  "comment through newline, delimiters kept",
			input: "# comment `x'\nnext",
			want: []lexAtom{
				{atomComment, "# comment `x'\n"},
				{atomName, "next"},
			},
		},
		{
			name:  "comment at end of input needs no newline",
			input: "# tail",
			want:  []lexAtom{{atomComment, "# tail"}},
		},
		{
			name:  "digit-initial word is plain text",
			input: "5foo bar",
			want: []lexAtom{
				{atomText, "5foo "},
				{atomName, "bar"},
			},
		},
		{
			name:  "identifier characters",
			input: "a1_b+2",
			want: []lexAtom{
				{atomName, "a1_b"},
				{atomText, "+2"},
			},
		},
		{
			name:  "text atoms stop after a newline",
			input: ", ,\n--\n",
			want: []lexAtom{
				{atomText, ", ,\n"},
				{atomText, "--\n"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLexer()
			l.pushSource("test", []byte(tt.input))
			if diff := cmp.Diff(tt.want, scanAll(t, l)); diff != "" {
				t.Errorf("atoms mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestScanChangedDelimiters(t *testing.T) {
	l := newLexer()
	l.quoteOpen, l.quoteClose = []byte("[["), []byte("]]")
	l.commentOpen, l.commentClose = []byte("//"), []byte("\n")
	l.pushSource("test", []byte("[[a]]// c\nz"))
	want := []lexAtom{
		{atomQuoted, "a"},
		{atomComment, "// c\n"},
		{atomName, "z"},
	}
	if diff := cmp.Diff(want, scanAll(t, l)); diff != "" {
		t.Errorf("atoms mismatch (-want +got):\n%s", diff)
	}
}

func TestScanUnterminatedQuote(t *testing.T) {
	l := newLexer()
	l.pushSource("f", []byte("`abc"))
	_, err := l.scan()
	var lerr *LexError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected a LexError, got %v", err)
	}
	if lerr.File != "f" || lerr.Line != 1 || lerr.Msg != "end of file in string" {
		t.Errorf("unexpected error detail: %+v", lerr)
	}
}

// Pushed-back text takes priority over the source, and tokens join
// seamlessly across the boundary.
func TestScanAcrossChunks(t *testing.T) {
	l := newLexer()
	l.pushSource("test", []byte("bar baz"))
	l.pushText([]byte("foo"), false)
	want := []lexAtom{
		{atomName, "foobar"},
		{atomText, " "},
		{atomName, "baz"},
	}
	if diff := cmp.Diff(want, scanAll(t, l)); diff != "" {
		t.Errorf("atoms mismatch (-want +got):\n%s", diff)
	}
}

func TestPositionTracking(t *testing.T) {
	l := newLexer()
	l.pushSource("test", []byte("a\nb\n"))
	for _, want := range []struct {
		text string
		line int
	}{
		{"a", 1},
		{"\n", 1},
		{"b", 2},
		{"\n", 2},
	} {
		a, err := l.scan()
		if err != nil {
			t.Fatal(err)
		}
		if string(a.text) != want.text || l.atomLine != want.line {
			t.Errorf("atom %q at line %d, want %q at line %d", a.text, l.atomLine, want.text, want.line)
		}
	}
}
