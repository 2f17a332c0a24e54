// Package server implements the process-wide listener from SPEC_FULL.md
// §4.9 (C9): a single dedicated goroutine running its own accept loop,
// routing each connection through the chooser and into a per-goroutine
// Session, caching Sessions one-shot per target goroutine.
//
// Grounded on the teacher's internal/daemon/daemon.go Daemon type (mutex +
// map of live state, one handler goroutine per accepted connection), with
// the session map generalized onto github.com/cornelk/hashmap for
// lock-free reads on the common "Session already exists" path.
package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/ianremillard/rdbg/internal/bridge"
	"github.com/ianremillard/rdbg/internal/chooser"
	"github.com/ianremillard/rdbg/internal/debugger"
	"github.com/ianremillard/rdbg/internal/framing"
	"github.com/ianremillard/rdbg/internal/inject"
	"github.com/ianremillard/rdbg/internal/pty"
	"github.com/ianremillard/rdbg/internal/rdbgerr"
	"github.com/ianremillard/rdbg/internal/session"
	"github.com/ianremillard/rdbg/internal/trace"
)

// LabelFunc names a candidate goroutine for display in the chooser. The
// embedding program supplies this since only it knows what each of its
// registered goroutines is doing.
type LabelFunc func(inject.ID) string

// State is the process-wide singleton server (spec.md §3 ServerState).
type State struct {
	registry *inject.Registry
	label    LabelFunc
	log      *logrus.Entry

	sessions *hashmap.Map[inject.ID, *session.Session]

	mu       sync.Mutex
	addr     string
	listener net.Listener
	fatalErr error
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// New constructs a server bound to registry's pool of debuggable
// goroutines. label may be nil, in which case candidates are named by ID.
func New(registry *inject.Registry, label LabelFunc, log *logrus.Entry) *State {
	return &State{
		registry: registry,
		label:    label,
		log:      log,
		sessions: hashmap.New[inject.ID, *session.Session](),
	}
}

// MakeSureListeningAt is idempotent for the same address (spec.md §4.9): a
// second call with the same addr is a no-op, a different addr fails, and a
// previously captured fatal error is re-raised rather than silently
// re-initialising.
func (s *State) MakeSureListeningAt(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fatalErr != nil {
		return s.fatalErr
	}
	if s.listener != nil {
		if s.addr != addr {
			return rdbgerr.New(rdbgerr.Fatal, "MakeSureListeningAt",
				fmt.Errorf("already bound to %s, cannot also bind %s", s.addr, addr))
		}
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return rdbgerr.New(rdbgerr.Transport, "MakeSureListeningAt", err)
	}
	s.listener = ln
	s.addr = addr
	s.wg.Add(1)
	go s.serve(ln)
	return nil
}

// Stop cancels the accept loop and joins it (spec.md §4.9).
func (s *State) Stop() error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	s.stopping.Store(true)
	err := ln.Close()
	s.wg.Wait()
	return err
}

func (s *State) serve(ln net.Listener) {
	defer s.wg.Done()
	// The event loop runs on its own dedicated OS thread (spec.md §5);
	// LockOSThread is the Go analogue of "a dedicated daemon thread".
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.stopping.Load() {
				s.mu.Lock()
				s.fatalErr = rdbgerr.New(rdbgerr.Fatal, "Accept", err)
				s.mu.Unlock()
				s.log.WithError(err).Error("accept loop failed, server halted")
			}
			return
		}
		go s.handleConn(conn)
	}
}

func (s *State) handleConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.WithField("remote", conn.RemoteAddr())

	config, err := framing.ReadConfig(conn)
	if err != nil {
		log.WithError(err).Warn("read terminal config")
		return
	}

	for {
		chosen, ok, err := s.runChooser(conn, config)
		if err != nil {
			log.WithError(err).Warn("chooser")
			return
		}
		if !ok {
			fmt.Fprint(conn, "Closing connection\r\n")
			return
		}

		sess, err := s.sessionFor(chosen)
		if err != nil {
			log.WithError(err).Warn("open session")
			return
		}

		if err := sess.ConnectClient(context.Background(), conn, conn, config); err != nil {
			log.WithError(err).Warn("connect client")
			return
		}
		// Loop back to the chooser on the same socket (spec.md §4.9 step 5).
	}
}

// runChooser implements spec.md §4.9 steps 2–3: a short-lived chooser PTY,
// bridged to the client's socket, running the Chooser UI over it.
func (s *State) runChooser(conn net.Conn, config framing.TerminalConfig) (inject.ID, bool, error) {
	chooserPTY, err := pty.Open()
	if err != nil {
		return 0, false, err
	}
	defer chooserPTY.Close()

	if err := chooserPTY.ApplySize(pty.Winsize{Rows: config.Rows, Cols: config.Cols}); err != nil {
		s.log.WithError(err).Warn("apply chooser pty size")
	}

	b := bridge.New(chooserPTY.Master)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// The client disconnecting ends Connect; cancel so the chooser
		// exits instead of waiting for input that will never come.
		b.Connect(ctx, conn, conn)
		cancel()
	}()

	return chooser.Run(ctx, chooserPTY.Slave, chooserPTY.Slave, s.listCandidates())
}

func (s *State) listCandidates() []chooser.Candidate {
	ids := s.registry.LiveIDs()
	out := make([]chooser.Candidate, 0, len(ids))
	for _, id := range ids {
		name := fmt.Sprintf("goroutine-%d", uint64(id))
		if s.label != nil {
			name = s.label(id)
		}
		out = append(out, chooser.Candidate{ID: id, Name: name})
	}
	return out
}

// SeedSession pre-registers sess as the cached Session for id, so a client
// later choosing this goroutine from the chooser reuses this exact Session
// instead of sessionFor lazily constructing a disconnected one. The run verb
// (cmd/rdbg) uses this to make its own in-process trace.Engine and Debugger
// the ones a remote client actually attaches to.
func (s *State) SeedSession(id inject.ID, sess *session.Session) {
	s.sessions.GetOrInsert(id, sess)
}

// sessionFor obtains the cached Session for id or creates one, one-shot
// (spec.md §3 Session lifetime, spec.md §4.9 step 5).
func (s *State) sessionFor(id inject.ID) (*session.Session, error) {
	if sess, ok := s.sessions.Get(id); ok {
		return sess, nil
	}

	p, err := pty.Open()
	if err != nil {
		return nil, err
	}
	shell := trace.NewLineShell(p.Slave, p.Slave)
	engine := trace.NewEngine(shell)
	d := debugger.New(id, s.registry, p, engine, s.log)
	b := bridge.New(p.Master)
	candidate := session.New(d, b)

	sess, existed := s.sessions.GetOrInsert(id, candidate)
	if existed {
		// Another connection raced us to create this Session; drop ours.
		p.Close()
	}
	return sess, nil
}
