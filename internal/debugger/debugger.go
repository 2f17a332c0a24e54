// Package debugger implements the per-goroutine state machine from
// SPEC_FULL.md §4.6 (C6): each debuggable goroutine of the target has
// exactly one Debugger, owning a PTY, a set of attached clients, and a
// trace engine. It is grounded on the teacher's internal/daemon/instance.go
// Instance type, generalized from that teacher's single-attached-conn model
// to the N-client multicast spec.md §9 resolves on.
package debugger

import (
	"fmt"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"github.com/ianremillard/rdbg/internal/framing"
	"github.com/ianremillard/rdbg/internal/inject"
	"github.com/ianremillard/rdbg/internal/pty"
	"github.com/ianremillard/rdbg/internal/trace"
)

// State is one of the four states spec.md §4.6 names.
type State int

const (
	Idle State = iota
	WaitingToAttach
	Tracing
	DetachedRunning
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitingToAttach:
		return "waiting-to-attach"
	case Tracing:
		return "tracing"
	case DetachedRunning:
		return "detached-running"
	default:
		return "unknown"
	}
}

// Client is the core's view of one attached remote client (spec.md §3):
// identity is pointer identity, clients are never compared structurally.
type Client struct {
	Config framing.TerminalConfig
	Detach func()
}

// Debugger is the per-goroutine state machine (C6). The PTY is shared by
// the trace engine's shell and the re-attach prompt; only one of the two
// writes to it at a time, enforced by which state Debugger is in.
type Debugger struct {
	id       inject.ID
	registry *inject.Registry
	pty      *pty.PTY
	engine   *trace.Engine
	log      *logrus.Entry

	mu      sync.Mutex
	state   State
	clients map[*Client]struct{}
}

// New constructs a Debugger for the goroutine identified by id, owning pty
// and driving engine. engine's Shell must already be bound to pty's slave
// streams.
func New(id inject.ID, registry *inject.Registry, p *pty.PTY, engine *trace.Engine, log *logrus.Entry) *Debugger {
	return &Debugger{
		id:       id,
		registry: registry,
		pty:      p,
		engine:   engine,
		log:      log.WithField("goroutine_id", uint64(id)),
		clients:  make(map[*Client]struct{}),
	}
}

// State reports the current state machine state.
func (d *Debugger) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// AddClient implements add_client (spec.md §4.6). Callers must serialize
// AddClient/RemoveClient calls for a given Debugger on one goroutine — the
// server's event-loop goroutine — matching the invariant that the client
// set is never mutated by the target goroutine itself.
func (d *Debugger) AddClient(c *Client) error {
	d.mu.Lock()
	first := len(d.clients) == 0
	d.clients[c] = struct{}{}
	state := d.state
	d.mu.Unlock()

	if first {
		if err := d.pty.ApplySize(pty.Winsize{Rows: c.Config.Rows, Cols: c.Config.Cols}); err != nil {
			d.log.WithError(err).Warn("apply terminal config to PTY on first client")
		}
	}

	if state == Idle {
		return d.attach()
	}
	// Tracing: the new client simply observes ongoing shell output via the
	// bridge multicast. DetachedRunning: the attach prompt is already
	// drawn on the PTY and the new client will see it the same way.
	return nil
}

// RemoveClient implements remove_client (spec.md §4.6).
func (d *Debugger) RemoveClient(c *Client) {
	d.mu.Lock()
	delete(d.clients, c)
	empty := len(d.clients) == 0
	state := d.state
	d.mu.Unlock()

	if !empty {
		return
	}
	if state == Tracing {
		// Deliver a quit line the shell's Scanner will read the same way
		// it would read one typed by a departing client.
		fmt.Fprint(d.pty.Master, "q\n")
	}
	// DetachedRunning: no live shell read loop to unblock; the re-attach
	// prompt simply has no one left to watch it.
}

// Reattach implements the re-attach button described in spec.md §4.6: a
// Ctrl-C byte seen on a client's input stream (internal/session's
// reattachOnCtrlC reader wrapper) while Debugger is DetachedRunning calls
// this, which re-enters attach() through the injection primitive rather
// than delivering a signal to the target goroutine directly.
func (d *Debugger) Reattach() error {
	d.mu.Lock()
	if d.state != DetachedRunning {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.attach()
}

// attach is the only path that begins tracing on this Debugger's goroutine
// (spec.md §4.6). It injects a callable that plants the sentinel, arms the
// check-debugging-global gate, and calls set_trace — exactly the sequence
// spec.md §4.6 names.
func (d *Debugger) attach() error {
	d.mu.Lock()
	d.state = WaitingToAttach
	d.mu.Unlock()

	err := d.registry.Inject(d.id, func(f *inject.Frame) {
		f.Globals[trace.SentinelKey] = true
		cleanup := d.engine.Debug(true)
		defer cleanup()

		d.mu.Lock()
		d.state = Tracing
		d.mu.Unlock()

		d.engine.OnDone(d.onDone)
		if quit := d.engine.SetTrace(f); !quit {
			d.enterDetachedRunning()
		}
	})
	if err != nil {
		d.mu.Lock()
		d.state = Idle
		d.mu.Unlock()
	}
	return err
}

func (d *Debugger) enterDetachedRunning() {
	d.mu.Lock()
	d.state = DetachedRunning
	d.mu.Unlock()
	color.New(color.FgYellow).Fprintln(d.pty.Master, "[press Ctrl-C to re-attach]")
}

// onDone is the trace engine's done side effect (spec.md §4.5, §4.6): every
// connected client is detached and the Debugger returns to Idle.
func (d *Debugger) onDone() {
	d.mu.Lock()
	d.state = Idle
	clients := make([]*Client, 0, len(d.clients))
	for c := range d.clients {
		clients = append(clients, c)
	}
	d.clients = make(map[*Client]struct{})
	d.mu.Unlock()

	for _, c := range clients {
		c.Detach()
	}
	d.log.Info("debug session done, clients detached")
}
