// Package session pairs one Debugger (C6) with the AsyncPTYBridge (C7)
// over its PTY, offering a single scoped ConnectClient operation exactly
// as spec.md §4.8 describes it.
package session

import (
	"context"
	"io"
	"sync"

	"github.com/ianremillard/rdbg/internal/bridge"
	"github.com/ianremillard/rdbg/internal/debugger"
	"github.com/ianremillard/rdbg/internal/framing"
)

// Session is created on first demand for a goroutine and kept until server
// shutdown (spec.md §3).
type Session struct {
	Debugger *debugger.Debugger
	Bridge   *bridge.Bridge
}

// New pairs a Debugger with the Bridge over its own PTY master.
func New(d *debugger.Debugger, b *bridge.Bridge) *Session {
	return &Session{Debugger: d, Bridge: b}
}

// ctrlC is the byte a client's terminal sends for Ctrl-C.
const ctrlC = 0x03

// reattachOnCtrlC wraps a client's reader so that, while its Debugger sits
// in DetachedRunning, a Ctrl-C byte triggers the re-attach button spec.md
// §4.6 describes. Go has no way to deliver a real SIGINT to one goroutine
// the way a foreground process group would receive it from its controlling
// terminal, so the re-attach trigger is detected here, on the byte stream,
// instead. Every byte is still forwarded unchanged; the watcher only adds a
// side effect.
type reattachOnCtrlC struct {
	r io.Reader
	d *debugger.Debugger
}

func (w *reattachOnCtrlC) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if n > 0 && w.d.State() == debugger.DetachedRunning {
		for _, b := range p[:n] {
			if b == ctrlC {
				go w.d.Reattach()
				break
			}
		}
	}
	return n, err
}

// ConnectClient implements spec.md §4.8: it opens the bridge scope,
// constructs a Client bound to a local completion event, adds it to the
// Debugger, waits for that client to be removed by any exit path — the
// debugger detaching it, the client disconnecting, or ctx being
// cancelled — then removes it and tears the bridge scope down.
//
// The client is bound to exactly one Session at a time, and every exit
// path leaves both the Debugger's client set and the bridge scope clean.
func (s *Session) ConnectClient(ctx context.Context, reader io.Reader, writer io.Writer, config framing.TerminalConfig) error {
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()

	detached := make(chan struct{})
	var once sync.Once
	client := &debugger.Client{
		Config: config,
		Detach: func() {
			once.Do(func() { close(detached) })
		},
	}

	watched := &reattachOnCtrlC{r: reader, d: s.Debugger}

	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		s.Bridge.Connect(bridgeCtx, watched, writer)
	}()

	if err := s.Debugger.AddClient(client); err != nil {
		cancelBridge()
		<-bridgeDone
		return err
	}

	select {
	case <-detached:
	case <-bridgeDone:
	case <-ctx.Done():
	}

	s.Debugger.RemoveClient(client)
	cancelBridge()
	<-bridgeDone
	return nil
}
