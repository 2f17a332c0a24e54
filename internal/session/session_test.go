package session

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/rdbg/internal/bridge"
	"github.com/ianremillard/rdbg/internal/debugger"
	"github.com/ianremillard/rdbg/internal/framing"
	"github.com/ianremillard/rdbg/internal/inject"
	"github.com/ianremillard/rdbg/internal/pty"
	"github.com/ianremillard/rdbg/internal/trace"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func newTestSession(t *testing.T) (*Session, *inject.Handle) {
	t.Helper()
	p, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	registry := inject.NewRegistry()
	frame := &inject.Frame{Globals: map[string]any{"x": 0, "y": 0}}
	handle := registry.Register(frame)
	t.Cleanup(func() { registry.Release(handle) })

	shell := trace.NewLineShell(p.Slave, p.Slave)
	engine := trace.NewEngine(shell)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	d := debugger.New(handle.ID(), registry, p, engine, log.WithField("test", true))
	b := bridge.New(p.Master)

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				handle.Checkpoint()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	return New(d, b), handle
}

func TestConnectClientScenarioSetTraceMeetsClient(t *testing.T) {
	s, _ := newTestSession(t)

	clientIn := strings.NewReader("x += 1\nc\n")
	clientOut := &syncBuffer{}

	err := s.ConnectClient(context.Background(), clientIn, clientOut, framing.TerminalConfig{TermType: "xterm", Rows: 24, Cols: 80})
	require.NoError(t, err)
	// "c" continues without quitting, so the Debugger ends in
	// DetachedRunning rather than Idle.
	require.Eventually(t, func() bool {
		return s.Debugger.State() == debugger.DetachedRunning
	}, time.Second, time.Millisecond)
}

func TestConnectClientCtrlCReattachesWhileDetachedRunning(t *testing.T) {
	s, _ := newTestSession(t)

	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })
	clientOut := &syncBuffer{}

	go s.ConnectClient(context.Background(), r, clientOut, framing.TerminalConfig{TermType: "xterm", Rows: 24, Cols: 80})
	require.Eventually(t, func() bool { return s.Debugger.State() == debugger.Tracing }, time.Second, time.Millisecond)

	// "c\n" continues without quitting, landing the Debugger in
	// DetachedRunning; the Ctrl-C byte that follows must re-enter attach()
	// rather than being swallowed as an ordinary input byte.
	_, err := w.Write([]byte("c\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Debugger.State() == debugger.DetachedRunning }, time.Second, time.Millisecond)

	_, err = w.Write([]byte{0x03})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Debugger.State() == debugger.Tracing }, time.Second, time.Millisecond)
}

func TestConnectClientReturnsOnContextCancel(t *testing.T) {
	s, _ := newTestSession(t)

	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })
	clientOut := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.ConnectClient(ctx, r, clientOut, framing.TerminalConfig{TermType: "xterm"})
	}()

	require.Eventually(t, func() bool { return s.Debugger.State() == debugger.Tracing }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConnectClient did not return after context cancel")
	}
}
