// Package trace is the Go realization of SPEC_FULL.md §4.5 (C5): it wraps
// an existing step/next/continue/break/post-mortem shell (the external
// collaborator REPL from spec.md §1) the way madbg's RemoteIPythonDebugger
// wraps IPython's TerminalPdb (original_source/madbg/debugger.py).
//
// Go has no sys.settrace, so "dispatch on every statement" becomes
// "dispatch once per set_trace/post_mortem/run-script call, into a Shell
// that owns the interactive loop for the rest of that debug session" — the
// shape macro Debugger core (C6) needs is identical either way: arm,
// dispatch, fire on-done.
package trace

import (
	"fmt"
	"sync"

	"github.com/ianremillard/rdbg/internal/inject"
)

// SentinelKey is the well-known globals key used to gate trace dispatch
// across the injection race described in SPEC_FULL.md §4.5 and §9: bytecode
// between "install hook" and "user code starts running" must not be
// dispatched. Per spec.md §9 Open Question (1), the sentinel is REMOVED on
// first match so it cannot leak into nested calls.
const SentinelKey = "RDBG_DEBUGGING"

// Shell is the external, pluggable interactive debug console: an existing
// line-editing REPL exposing the standard step/next/continue/quit verbs,
// matching spec.md §1's "assume an existing... REPL" non-goal. Run blocks
// until the user ends the session, returning true if they issued quit
// (mapped to madbg's BdbQuit) and false if they continued normally.
type Shell interface {
	Run(frame *inject.Frame) (quit bool)
	PostMortem(frame *inject.Frame, cause error)
}

// Mode selects how RunScript resolves path.
type Mode int

const (
	// ModeFile runs path as a top-level script file.
	ModeFile Mode = iota
	// ModeModule runs path as a module name (python -m semantics).
	ModeModule
)

// ScriptContext is the process-wide argv/module-path state a run-script
// call temporarily substitutes and restores, matching spec.md §4.5's "on
// completion restore path/argv exactly" and the testable property in
// SPEC_FULL.md §8.
type ScriptContext struct {
	Argv       []string
	ModulePath string
}

// Engine is the per-goroutine trace-dispatch adapter (spec.md §4.5, §4.6).
// Its state is guarded by a mutex because two independent callers drive one
// Engine concurrently under the run verb (cmd/rdbg): the goroutine running
// RunScript, and whichever goroutine delivers a client's injected attach
// callable (internal/debugger.attach).
type Engine struct {
	shell Shell

	mu               sync.Mutex
	checkGlobalArmed bool
	quitting         bool
	doneCallbacks    []func()
}

// NewEngine wraps shell as a trace engine adapter.
func NewEngine(shell Shell) *Engine {
	return &Engine{shell: shell}
}

// OnDone registers a callback fired exactly once, the next time this
// engine's debug session ends via quit or its internal quitting flag
// (spec.md §4.5 "Done semantics").
func (e *Engine) OnDone(fn func()) {
	e.mu.Lock()
	e.doneCallbacks = append(e.doneCallbacks, fn)
	e.mu.Unlock()
}

func (e *Engine) fireDone() {
	e.mu.Lock()
	cbs := e.doneCallbacks
	e.doneCallbacks = nil
	e.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// SetTrace arranges that, starting at frame, the shell takes over until
// continue or quit (spec.md §4.5). If the check-debugging-global gate is
// armed, frames without SentinelKey are ignored and the gate disarms on
// the first frame that does carry it (spec.md §4.5, §9). It reports
// whether the shell session ended via quit, so callers driving a state
// machine (internal/debugger) can distinguish quit from continue.
func (e *Engine) SetTrace(frame *inject.Frame) (quit bool) {
	e.mu.Lock()
	armed := e.checkGlobalArmed
	e.mu.Unlock()

	if armed {
		if _, ok := frame.Globals[SentinelKey]; !ok {
			return false
		}
		delete(frame.Globals, SentinelKey) // remove on first match (§9 Open Question 1)
		e.mu.Lock()
		e.checkGlobalArmed = false
		e.mu.Unlock()
	}

	quit = e.shell.Run(frame)
	e.mu.Lock()
	quitting := e.quitting
	e.mu.Unlock()
	if quit || quitting {
		e.fireDone()
	}
	return quit
}

// PostMortem enters the interactive shell positioned at a captured failure
// (spec.md §4.5).
func (e *Engine) PostMortem(frame *inject.Frame, cause error) {
	e.shell.PostMortem(frame, cause)
	e.fireDone()
}

// Debug is the scoped acquisition from spec.md §4.5: it arms the global
// trace hook state and guarantees its removal on every exit path via the
// returned cleanup, which the caller must defer immediately.
func (e *Engine) Debug(checkGlobal bool) (cleanup func()) {
	e.mu.Lock()
	e.checkGlobalArmed = checkGlobal
	e.quitting = false
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		e.quitting = true
		e.checkGlobalArmed = false
		e.mu.Unlock()
	}
}

// RunScript executes script with path/mode/argv substituted into ctx such
// that the script sees itself as top-level, optionally with tracing armed,
// restoring ctx exactly on completion (spec.md §4.5).
func (e *Engine) RunScript(ctx *ScriptContext, path string, mode Mode, argv []string, withSetTrace bool, script func(globals map[string]any) error) error {
	origArgv := append([]string(nil), ctx.Argv...)
	origModulePath := ctx.ModulePath
	defer func() {
		ctx.Argv = origArgv
		ctx.ModulePath = origModulePath
	}()

	ctx.Argv = argv
	if mode == ModeFile {
		ctx.ModulePath = dirOf(path)
	} else {
		ctx.ModulePath = path
	}

	globals := map[string]any{SentinelKey: true}
	if !withSetTrace {
		delete(globals, SentinelKey)
		return script(globals)
	}

	cleanup := e.Debug(true)
	defer cleanup()
	err := script(globals)
	if err != nil {
		return fmt.Errorf("run-script %s: %w", path, err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
