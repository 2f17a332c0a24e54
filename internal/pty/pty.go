// Package pty owns the master/slave pseudo-terminal pair used by every
// debug session and by the transient chooser. It wraps github.com/creack/pty
// the same way the teacher's internal/daemon/instance.go wraps it for the
// agent PTY, but splits "open" from "attach a process" so one PTY can host
// the chooser app and then, once a goroutine is chosen, the debug shell —
// see SPEC_FULL.md §4.9 step 2 and step 5.
package pty

import (
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

// PTY is a single master/slave pseudo-terminal pair. A PTY is opened exactly
// once and closed exactly once (SPEC_FULL.md §4.1).
type PTY struct {
	Master *os.File
	Slave  *os.File

	mu     sync.Mutex
	closed bool
}

// Open allocates a new pseudo-terminal pair.
func Open() (*PTY, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, rdbgerr.New(rdbgerr.Resource, "pty.Open", err)
	}
	return &PTY{Master: master, Slave: slave}, nil
}

// Winsize is the window size portion of a terminal configuration.
type Winsize struct {
	Rows uint16
	Cols uint16
}

// ApplySize writes the window size to the slave side.
func (p *PTY) ApplySize(ws Winsize) error {
	return pty.Setsize(p.Slave, &pty.Winsize{Rows: ws.Rows, Cols: ws.Cols})
}

// StartProcess starts cmd attached to this PTY's slave, in its own session
// so destroying the session can kill the whole process group, mirroring
// startAgent in the teacher's internal/daemon/instance.go.
func (p *PTY) StartProcess(cmd *exec.Cmd) error {
	cmd.Stdin = p.Slave
	cmd.Stdout = p.Slave
	cmd.Stderr = p.Slave
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = setsid()
	}
	if err := cmd.Start(); err != nil {
		return rdbgerr.New(rdbgerr.Resource, "pty.StartProcess", err)
	}
	return nil
}

// Close closes the slave and then the master. It does not wait for output
// still queued on the slave to drain first. Close is idempotent and
// best-effort: it always returns nil, so a hang-up raised by closing the
// master never surfaces as an error here.
func (p *PTY) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	// The slave is closed before the master.
	p.Slave.Close()
	p.Master.Close()
	return nil
}

// Closed reports whether Close has already run.
func (p *PTY) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
