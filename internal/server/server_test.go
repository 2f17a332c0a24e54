package server

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ianremillard/rdbg/internal/bridge"
	"github.com/ianremillard/rdbg/internal/debugger"
	"github.com/ianremillard/rdbg/internal/inject"
	"github.com/ianremillard/rdbg/internal/pty"
	"github.com/ianremillard/rdbg/internal/session"
	"github.com/ianremillard/rdbg/internal/trace"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(inject.NewRegistry(), nil, log.WithField("test", true))
}

func TestMakeSureListeningAtIsIdempotentForSameAddr(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.MakeSureListeningAt("127.0.0.1:0"))
	addr := s.addr

	require.NoError(t, s.MakeSureListeningAt(addr))
	require.NoError(t, s.Stop())
}

func TestMakeSureListeningAtFailsForDifferentAddr(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.MakeSureListeningAt("127.0.0.1:0"))
	defer s.Stop()

	err := s.MakeSureListeningAt("127.0.0.1:1")
	require.Error(t, err)
}

func TestStopJoinsAcceptLoop(t *testing.T) {
	s := newTestState(t)
	require.NoError(t, s.MakeSureListeningAt("127.0.0.1:0"))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	require.NoError(t, s.Stop())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("accept loop did not join after Stop")
	}
}

func TestSessionForCachesOneShotPerGoroutine(t *testing.T) {
	s := newTestState(t)
	handle := s.registry.Register(&inject.Frame{Globals: map[string]any{}})
	defer s.registry.Release(handle)

	sess1, err := s.sessionFor(handle.ID())
	require.NoError(t, err)
	sess2, err := s.sessionFor(handle.ID())
	require.NoError(t, err)

	require.Same(t, sess1, sess2)
}

func TestSeedSessionIsReusedBySessionFor(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	registry := inject.NewRegistry()
	s := New(registry, nil, log.WithField("test", true))

	handle := registry.Register(&inject.Frame{Globals: map[string]any{}})
	defer registry.Release(handle)

	p, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	shell := trace.NewLineShell(p.Slave, p.Slave)
	engine := trace.NewEngine(shell)
	d := debugger.New(handle.ID(), registry, p, engine, log.WithField("test", true))
	b := bridge.New(p.Master)
	seeded := session.New(d, b)

	s.SeedSession(handle.ID(), seeded)

	got, err := s.sessionFor(handle.ID())
	require.NoError(t, err)
	require.Same(t, seeded, got)
}

func TestListCandidatesUsesLabelFunc(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	registry := inject.NewRegistry()
	s := New(registry, func(id inject.ID) string { return "worker" }, log.WithField("test", true))

	h := registry.Register(&inject.Frame{Globals: map[string]any{}})
	defer registry.Release(h)

	candidates := s.listCandidates()
	require.Len(t, candidates, 1)
	require.Equal(t, "worker", candidates[0].Name)
	require.Equal(t, h.ID(), candidates[0].ID)
}
