// Command m4 is the command-line front end for the macro processor:
// it owns option parsing, input selection and exit-code mapping, and
// drives the engine in package m4.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/macrotext/m4"
)

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(s string) error { *m = append(*m, s); return nil }

// countFlag counts repeated occurrences of a boolean flag, for -E -E.
type countFlag int

func (c *countFlag) String() string   { return strconv.Itoa(int(*c)) }
func (c *countFlag) Set(string) error { *c++; return nil }
func (c *countFlag) IsBoolFlag() bool { return true }

func main() {
	var (
		defines   multiFlag
		undefines multiFlag
		traces    multiFlag
		includes  multiFlag
		fatal     countFlag
	)
	flag.Var(&defines, "D", "define `name[=value]` before reading input (repeatable)")
	flag.Var(&undefines, "U", "undefine `name` before reading input (repeatable)")
	flag.Var(&traces, "t", "trace `name` when it is invoked (repeatable)")
	flag.Var(&includes, "I", "append `directory` to the include search path (repeatable)")
	flag.Var(&fatal, "E", "warnings become errors; given twice, stop at the first error")
	sync := flag.Bool("s", false, "output #line synchronization directives")
	limit := flag.Int("L", 0, "expansion nesting `limit` (0 for unlimited)")
	gnu := flag.Bool("g", false, "enable the extended builtin catalog")
	traditional := flag.Bool("G", false, "suppress the extended builtin catalog")
	freezeFile := flag.String("F", "", "freeze state into `file` after the run")
	reloadFile := flag.String("R", "", "reload a frozen state from `file` before the run")
	flag.Parse()

	opts := m4.Options{
		Define:        defines,
		Undefine:      undefines,
		Trace:         traces,
		IncludeDirs:   includes,
		NestingLimit:  *limit,
		SyncLines:     *sync,
		FatalWarnings: int(fatal),
		Traditional:   *traditional || !*gnu,
	}
	engine := m4.New(opts)

	if *reloadFile != "" {
		f, err := os.Open(*reloadFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "m4: %v\n", err)
			os.Exit(1)
		}
		err = engine.Reload(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "m4: %v\n", err)
			os.Exit(1)
		}
	}

	var inputs []m4.Input
	if flag.NArg() == 0 {
		inputs = append(inputs, m4.Input{Name: "stdin", Reader: os.Stdin})
	} else {
		for _, path := range flag.Args() {
			f, err := os.Open(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "m4: %v\n", err)
				os.Exit(1)
			}
			defer f.Close()
			inputs = append(inputs, m4.Input{Name: path, Reader: f})
		}
	}

	status, _ := engine.Run(inputs, os.Stdout, os.Stderr)

	if *freezeFile != "" {
		f, err := os.Create(*freezeFile)
		if err == nil {
			err = engine.Freeze(f)
		}
		if err == nil {
			err = f.Close()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "m4: %v\n", err)
			os.Exit(1)
		}
	}

	os.Exit(status)
}
