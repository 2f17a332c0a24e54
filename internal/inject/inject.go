// Package inject is the Go realization of SPEC_FULL.md §4.4 (C4): an
// external-collaborator contract specified only at its interface in
// spec.md, because the underlying mechanism (signal-based code injection
// into an arbitrary OS thread, interrupting a blocked syscall) has no
// portable Go equivalent. Go goroutines are not addressable the way POSIX
// threads are, so the contract is realised as a cooperative rendezvous: a
// debuggable goroutine registers a *Handle at its checkpoints, and Inject
// delivers a callable through that Handle's channel.
package inject

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

// ID identifies one debuggable goroutine. It is opaque to callers outside
// this package; the registry hands them out.
type ID uint64

// Frame is the minimal "current execution frame" contract C5 needs: a
// mutable namespace plus a link to an enclosing frame, standing in for a
// Python frame's f_globals/f_back.
type Frame struct {
	Globals map[string]any
	Parent  *Frame
}

// Callable is a one-shot function injected onto a target goroutine,
// matching spec.md §4.4's "inject-on-thread(thread, callable)".
type Callable func(*Frame)

// Handle is the per-goroutine rendezvous point. A debuggable goroutine
// creates one via Register and calls Checkpoint (or Blocking) wherever it
// is willing to run injected callables — analogous to the points in a
// Python interpreter loop where the trace function can fire.
type Handle struct {
	id    ID
	cmds  chan Callable
	frame atomic.Pointer[Frame]
	live  atomic.Bool
}

// Registry tracks every live debuggable goroutine's Handle so a Session can
// look one up by ID to inject onto it.
type Registry struct {
	next atomic.Uint64

	mu      sync.RWMutex
	handles map[ID]*Handle
}

// NewRegistry constructs an empty injection registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[ID]*Handle)}
}

// Register creates and tracks a new Handle for the calling goroutine. The
// goroutine must call Release when it exits.
func (r *Registry) Register(frame *Frame) *Handle {
	id := ID(r.next.Add(1))
	h := &Handle{
		id:   id,
		cmds: make(chan Callable, 1),
	}
	h.live.Store(true)
	h.frame.Store(frame)

	r.mu.Lock()
	r.handles[id] = h
	r.mu.Unlock()
	return h
}

// Release removes h from the registry; any subsequent Inject targeting its
// ID fails with TargetUnavailable.
func (r *Registry) Release(h *Handle) {
	h.live.Store(false)
	r.mu.Lock()
	delete(r.handles, h.id)
	r.mu.Unlock()
}

// Inject delivers fn to the goroutine owning id. Whether that goroutine is
// presently at a Checkpoint or parked in Blocking, delivery through cmds is
// what runs fn and — for Blocking — what interrupts the simulated blocking
// syscall, matching spec.md §4.4's "interrupt a blocking system call if
// necessary".
func (r *Registry) Inject(id ID, fn Callable) error {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok || !h.live.Load() {
		return rdbgerr.New(rdbgerr.TargetUnavailable, "Inject", nil)
	}
	select {
	case h.cmds <- fn:
		return nil
	default:
		return rdbgerr.New(rdbgerr.TargetUnavailable, "Inject", nil)
	}
}

// Checkpoint runs any pending injected callable against the goroutine's
// current frame, non-blocking. Debuggable code calls this at points where
// it is safe to run injected code synchronously.
func (h *Handle) Checkpoint() {
	select {
	case fn := <-h.cmds:
		fn(h.frame.Load())
	default:
	}
}

// Blocking parks the calling goroutine as if it were inside a blocking
// syscall until ctx is done or an injected callable arrives; arrival both
// runs the callable and returns control, the Go analogue of "interrupting
// a blocking system call if thread is suspended in one" (spec.md §4.4).
func (h *Handle) Blocking(ctx context.Context) {
	select {
	case fn := <-h.cmds:
		fn(h.frame.Load())
	case <-ctx.Done():
	}
}

// SetFrame updates the frame injected callables will observe — called by
// the goroutine as it moves to a new lexical scope.
func (h *Handle) SetFrame(f *Frame) {
	h.frame.Store(f)
}

// LiveIDs lists every currently registered goroutine's ID, in no
// particular order. The Chooser UI (C10) uses this as its candidate pool.
func (r *Registry) LiveIDs() []ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ID, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// ID reports this handle's registry key.
func (h *Handle) ID() ID { return h.id }
