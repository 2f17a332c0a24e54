package trace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ianremillard/rdbg/internal/inject"
)

// LineShell is the minimal concrete Shell this repo ships so the engine has
// something to drive end to end; the real step/next/continue/break REPL
// (tab completion, syntax highlighting, history) is the out-of-scope
// external collaborator from spec.md §1. LineShell reads one command per
// line from in and writes results to out, supporting the verbs spec.md's
// scenarios actually exercise: variable assignment/increment, printing a
// value, continue, and quit.
type LineShell struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// NewLineShell wraps in/out as a Shell. In production these are a
// Debugger's PTY slave, so client keystrokes written into the PTY master
// arrive here exactly as they would at a real terminal program.
func NewLineShell(in io.Reader, out io.Writer) *LineShell {
	return &LineShell{scanner: bufio.NewScanner(in), out: out}
}

// Run implements Shell.
func (s *LineShell) Run(frame *inject.Frame) (quit bool) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case isContinue(line):
			return false
		case isQuit(line):
			return true
		case strings.HasPrefix(line, "p "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "p "))
			fmt.Fprintf(s.out, "%v\n", frame.Globals[name])
		default:
			if err := evalStatement(frame, line); err != nil {
				fmt.Fprintf(s.out, "*** %s\n", err)
			}
		}
	}
	// The shell's input stream reaching EOF is treated as quit so the state
	// machine always makes progress. (A synthetic "q" line written by the
	// Debugger is handled by isQuit above, not here.)
	return true
}

// PostMortem implements Shell.
func (s *LineShell) PostMortem(frame *inject.Frame, cause error) {
	fmt.Fprintf(s.out, "%s\n", cause)
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if isContinue(line) || isQuit(line) {
			return
		}
	}
}

func isContinue(line string) bool {
	switch line {
	case "c", "cont", "continue":
		return true
	}
	return false
}

func isQuit(line string) bool {
	switch line {
	case "q", "quit":
		return true
	}
	return false
}

// evalStatement supports the two statement shapes the spec's scenarios
// need: a chained assignment ("x = y = 0") and an increment ("x += 1").
func evalStatement(frame *inject.Frame, line string) error {
	if idx := strings.Index(line, "+="); idx >= 0 {
		name := strings.TrimSpace(line[:idx])
		rhs := strings.TrimSpace(line[idx+2:])
		delta, err := strconv.Atoi(rhs)
		if err != nil {
			return fmt.Errorf("cannot parse %q: %w", rhs, err)
		}
		cur, _ := frame.Globals[name].(int)
		frame.Globals[name] = cur + delta
		return nil
	}

	if strings.Contains(line, "=") {
		parts := strings.Split(line, "=")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		targets, rhs := parts[:len(parts)-1], parts[len(parts)-1]
		val, err := evalValue(frame, rhs)
		if err != nil {
			return err
		}
		for _, t := range targets {
			frame.Globals[t] = val
		}
		return nil
	}

	return fmt.Errorf("unrecognized command: %s", line)
}

func evalValue(frame *inject.Frame, rhs string) (any, error) {
	switch rhs {
	case "True", "true":
		return true, nil
	case "False", "false":
		return false, nil
	}
	if n, err := strconv.Atoi(rhs); err == nil {
		return n, nil
	}
	if v, ok := frame.Globals[rhs]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot evaluate %q", rhs)
}
