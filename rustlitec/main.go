package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/jessevdk/go-flags"
	"github.com/klauspost/asmfmt"
)

// options is the CLI surface. Source is the one positional argument:
// a file path if it names an existing file, otherwise the source text
// itself.
type options struct {
	Output  string `short:"o" long:"output" description:"write assembly here instead of stdout"`
	Verbose bool   `short:"v" long:"verbose" description:"enable debug logging"`
	Args    struct {
		Source string `positional-arg-name:"source-or-path"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return 1
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	if opts.Verbose {
		logger.SetLevel(log.DebugLevel)
	}

	src, err := loadSource(opts.Args.Source)
	if err != nil {
		logger.Error("could not read input", "err", err)
		return 1
	}

	asm, err := compile(src)
	if err != nil {
		reportCompileError(logger, src, err)
		return 1
	}

	out := os.Stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			logger.Error("could not open output", "path", opts.Output, "err", err)
			return 1
		}
		defer f.Close()
		out = f
	}
	fmt.Fprint(out, asm)
	return 0
}

// loadSource implements the driver's source-or-path convention: if
// arg names an existing file, its contents are the source; otherwise
// arg itself is the source text.
func loadSource(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return arg, nil
}

// compile runs the full lexer -> parser -> codegen pipeline and
// formats the result. asmfmt targets Go's plan9 assembler dialect
// rather than the clang-integrated-assembler AArch64 syntax this
// compiler emits, so a formatting failure is not fatal: the
// unformatted text (already valid Darwin/arm64 syntax on its own) is
// used as a fallback. See DESIGN.md.
func compile(src string) (string, error) {
	p, err := NewParser(src)
	if err != nil {
		return "", err
	}
	prog, err := p.Program()
	if err != nil {
		return "", err
	}
	cg := NewCodeGen(prog)
	asm, err := cg.Compile()
	if err != nil {
		return "", err
	}
	if formatted, ferr := asmfmt.Format(strings.NewReader(asm)); ferr == nil {
		return string(formatted), nil
	}
	return asm, nil
}

func reportCompileError(logger *log.Logger, src string, err error) {
	if pe, ok := err.(positioned); ok {
		line, col := LineCol(src, pe.Position())
		logger.Error(err.Error(), "line", line, "col", col)
		return
	}
	logger.Error(err.Error())
}
