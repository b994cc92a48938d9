package expr

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEval(t *testing.T) {
	tests := []struct {
		input string
		want  int32
	}{
		{"0", 0},
		{"42", 42},
		{"3+4*2", 11},
		{"(3+4)*2", 14},
		{"7/2", 3},
		{"-7/2", -3},
		{"5%3", 2},
		{"2**10", 1024},
		{"2**3**2", 512}, // right-associative
		{"2**0", 1},
		{"1<<4", 16},
		{"-16>>2", -4},
		{"255&15", 15},
		{"1|6", 7},
		{"5^1", 4},
		{"~0", -1},
		{"!0", 1},
		{"!7", 0},
		{"-~0", 1},
		{"1<2", 1},
		{"2<=1", 0},
		{"3>2 == 1", 1},
		{"1+2 >= 3", 1},
		{"4!=4", 0},
		{"1 && 2", 1},
		{"1 && 0", 0},
		{"0 || 3", 1},
		{"0 || 0", 0},
		{"0x1f", 31},
		{"0X10", 16},
		{"010", 8},
		{"0b101", 5},
		{"  1 + 1  ", 2},
		{"((((5))))", 5},
		{"2147483647+1", -2147483648}, // wraps
		{"-2147483648-1", 2147483647},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Eval(tt.input)
			if err != nil {
				t.Fatalf("Eval(%q): %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Eval(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1/0", "division by zero"},
		{"5%0", "division by zero"},
		{"2**-1", "negative exponent"},
		{"1+", "unexpected end"},
		{"(1", "missing ')'"},
		{"abc", "bad expression"},
		{"", "unexpected end"},
		{"1 2", "unexpected"},
		{"0x", "bad numeric literal"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := Eval(tt.input)
			if err == nil {
				t.Fatalf("Eval(%q): expected error containing %q", tt.input, tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Eval(%q) error %q, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}

func TestDivideByZeroSentinel(t *testing.T) {
	_, err := Eval("10/(5-5)")
	if !errors.Is(err, ErrDivideByZero) {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}
