package m4

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMacroTableStack(t *testing.T) {
	tb := newMacroTable()
	if tb.lookup("x") != nil {
		t.Fatal("lookup on an empty table should be nil")
	}

	if tb.define("x", userDefinition([]byte("one"))) {
		t.Error("first define reported a replacement")
	}
	tb.pushdef("x", userDefinition([]byte("two")))
	if got := string(tb.lookup("x").body); got != "two" {
		t.Errorf("lookup = %q, want the pushed definition", got)
	}

	// define replaces the top entry without touching what is below.
	if !tb.define("x", userDefinition([]byte("three"))) {
		t.Error("define over an existing entry did not report a replacement")
	}
	tb.popdef("x")
	if got := string(tb.lookup("x").body); got != "one" {
		t.Errorf("after popdef, lookup = %q, want the original definition", got)
	}

	tb.popdef("x")
	if tb.lookup("x") != nil {
		t.Error("name should disappear once its stack empties")
	}
	tb.popdef("x") // popping an undefined name is a no-op

	tb.pushdef("x", userDefinition([]byte("a")))
	tb.pushdef("x", userDefinition([]byte("b")))
	tb.undefine("x")
	if tb.lookup("x") != nil {
		t.Error("undefine should clear the whole stack")
	}
}

func TestMacroTableNames(t *testing.T) {
	tb := newMacroTable()
	tb.define("zeta", userDefinition(nil))
	tb.define("alpha", userDefinition(nil))
	tb.define("mid", builtinDefinition("mid"))
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, tb.names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestBodyExpansion(t *testing.T) {
	tests := []struct {
		body string
		name string
		args []string
		want string
	}{
		{body: "hello", name: "m", want: "hello"},
		{body: "$1-$2", name: "m", args: []string{"a", "b"}, want: "a-b"},
		{body: "$2$1", name: "m", args: []string{"a", "b"}, want: "ba"},
		{body: "$0", name: "self", want: "self"},
		{body: "$#", name: "m", args: []string{"a", "b", "c"}, want: "3"},
		{body: "$#", name: "m", want: "0"},
		{body: "$*", name: "m", args: []string{"a", "b"}, want: "a,b"},
		{body: "$@", name: "m", args: []string{"a", "b"}, want: "a,b"},
		// Missing arguments read as empty; $ not followed by a
		// parameter character is literal; references are single-digit.
		{body: "$1", name: "m", want: ""},
		{body: "cost: 100$", name: "m", want: "cost: 100$"},
		{body: "$x", name: "m", want: "$x"},
		{body: "a$10b", name: "m", args: []string{"X"}, want: "aX0b"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			var args [][]byte
			for _, a := range tt.args {
				args = append(args, []byte(a))
			}
			got := string(userDefinition([]byte(tt.body)).expand(tt.name, args))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("expand mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
