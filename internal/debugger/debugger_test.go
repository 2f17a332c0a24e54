package debugger

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/rdbg/internal/framing"
	"github.com/ianremillard/rdbg/internal/inject"
	"github.com/ianremillard/rdbg/internal/pty"
	"github.com/ianremillard/rdbg/internal/trace"
)

func newTestDebugger(t *testing.T) (*Debugger, *inject.Registry, *inject.Handle) {
	t.Helper()
	p, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	registry := inject.NewRegistry()
	frame := &inject.Frame{Globals: map[string]any{}}
	handle := registry.Register(frame)
	t.Cleanup(func() { registry.Release(handle) })

	shell := trace.NewLineShell(p.Slave, p.Slave)
	engine := trace.NewEngine(shell)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	d := New(handle.ID(), registry, p, engine, log.WithField("test", true))

	// Drive the target goroutine's checkpoint loop so injected attach
	// callables actually run, the way the real debuggable goroutine would.
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

	return d, registry, handle
}

func TestAddClientFromIdleAttaches(t *testing.T) {
	d, _, _ := newTestDebugger(t)

	detached := make(chan struct{})
	c := &Client{
		Config: framing.TerminalConfig{TermType: "xterm", Rows: 24, Cols: 80},
		Detach: func() { close(detached) },
	}

	require.NoError(t, d.AddClient(c))
	require.Eventually(t, func() bool { return d.State() == Tracing }, time.Second, time.Millisecond)

	// Client writes q to the PTY master, same path a socket write would
	// take; the shell quits and the Debugger cascades back to Idle.
	_, err := d.pty.Master.Write([]byte("q\n"))
	require.NoError(t, err)

	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("client was never detached after quit")
	}
	require.Equal(t, Idle, d.State())
}

func TestAddClientContinueEntersDetachedRunning(t *testing.T) {
	d, _, _ := newTestDebugger(t)

	c := &Client{Config: framing.TerminalConfig{TermType: "xterm"}, Detach: func() {}}
	require.NoError(t, d.AddClient(c))
	require.Eventually(t, func() bool { return d.State() == Tracing }, time.Second, time.Millisecond)

	_, err := d.pty.Master.Write([]byte("c\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.State() == DetachedRunning }, time.Second, time.Millisecond)
}

func TestRemoveLastClientWhileTracingSendsQuit(t *testing.T) {
	d, _, _ := newTestDebugger(t)

	detached := make(chan struct{})
	c := &Client{Config: framing.TerminalConfig{TermType: "xterm"}, Detach: func() { close(detached) }}
	require.NoError(t, d.AddClient(c))
	require.Eventually(t, func() bool { return d.State() == Tracing }, time.Second, time.Millisecond)

	d.RemoveClient(c)

	select {
	case <-detached:
	case <-time.After(time.Second):
		t.Fatal("removing last client did not cause the shell to quit")
	}
	require.Equal(t, Idle, d.State())
}

func TestReattachFromDetachedRunningResumesTracing(t *testing.T) {
	d, _, _ := newTestDebugger(t)

	c := &Client{Config: framing.TerminalConfig{TermType: "xterm"}, Detach: func() {}}
	require.NoError(t, d.AddClient(c))
	require.Eventually(t, func() bool { return d.State() == Tracing }, time.Second, time.Millisecond)

	_, err := d.pty.Master.Write([]byte("c\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return d.State() == DetachedRunning }, time.Second, time.Millisecond)

	require.NoError(t, d.Reattach())
	require.Eventually(t, func() bool { return d.State() == Tracing }, time.Second, time.Millisecond)
}

func TestSecondClientJoinsTracingWithoutReinjecting(t *testing.T) {
	d, _, _ := newTestDebugger(t)

	c1 := &Client{Config: framing.TerminalConfig{TermType: "xterm"}, Detach: func() {}}
	require.NoError(t, d.AddClient(c1))
	require.Eventually(t, func() bool { return d.State() == Tracing }, time.Second, time.Millisecond)

	c2 := &Client{Config: framing.TerminalConfig{TermType: "xterm"}, Detach: func() {}}
	require.NoError(t, d.AddClient(c2))
	require.Equal(t, Tracing, d.State())
}
