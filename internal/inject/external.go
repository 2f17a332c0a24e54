package inject

import (
	"errors"

	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

// ExternalInjector is the low-level cross-process code-injection mechanism
// spec.md §1 and §4.4 name as an out-of-scope external collaborator,
// specified only at its interface: "execute a payload inside a remote
// process". Go has no portable, safe way to do this itself (it would mean
// ptrace or platform-specific debugger APIs); this package defines the
// contract the `attach` CLI verb (spec.md §6) calls through, and ships only
// a stub that reports the capability is unavailable until a caller
// supplies a real one.
type ExternalInjector interface {
	// InjectPayload executes payload inside the OS process pid. Its exact
	// meaning (machine code, a serialized command, a signal number) is up
	// to the concrete injector; rdbg only needs "start a server listening
	// at this address" delivered somehow.
	InjectPayload(pid int, payload []byte) error
}

type noExternalInjector struct{}

func (noExternalInjector) InjectPayload(pid int, payload []byte) error {
	return rdbgerr.New(rdbgerr.TargetUnavailable, "InjectPayload",
		errors.New("no external cross-process injector is configured"))
}

var externalInjector ExternalInjector = noExternalInjector{}

// SetExternalInjector installs the real cross-process injection mechanism.
// Embedding programs that have one (e.g. a ptrace-based helper) call this
// during startup; rdbg itself never implements one.
func SetExternalInjector(i ExternalInjector) {
	if i == nil {
		i = noExternalInjector{}
	}
	externalInjector = i
}

// External returns the currently installed ExternalInjector.
func External() ExternalInjector {
	return externalInjector
}
