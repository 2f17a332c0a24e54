package bridge

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ianremillard/rdbg/internal/pty"
)

// syncBuffer is a concurrency-safe io.Writer for assertions.
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

func TestReadIntoMulticastsToAllScopedWriters(t *testing.T) {
	p, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	b := New(p.Master)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out1, out2 := &syncBuffer{}, &syncBuffer{}
	go b.ReadInto(ctx, out1)
	go b.ReadInto(ctx, out2)

	time.Sleep(20 * time.Millisecond) // let both sinks register
	_, err = p.Slave.Write([]byte("hello\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out1.String(), "hello") && strings.Contains(out2.String(), "hello")
	}, time.Second, time.Millisecond)
}

func TestWriteIntoFeedsMaster(t *testing.T) {
	p, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	b := New(p.Master)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := strings.NewReader("from client\n")
	go b.WriteInto(ctx, in)

	buf := make([]byte, 64)
	require.Eventually(t, func() bool {
		n, _ := p.Slave.Read(buf)
		return n > 0 && strings.Contains(string(buf[:n]), "from client")
	}, time.Second, time.Millisecond)
}

func TestConnectCombinesBothDirections(t *testing.T) {
	p, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	b := New(p.Master)
	ctx, cancel := context.WithCancel(context.Background())

	// The client's input stays open until the test ends: Connect tears down
	// as soon as its reader hits EOF, which would remove the client's sink
	// before the echo comes back.
	clientIn, clientInW := io.Pipe()
	t.Cleanup(func() { clientInW.Close() })
	clientOut := &syncBuffer{}

	connectDone := make(chan struct{})
	go func() {
		b.Connect(ctx, clientIn, clientOut)
		close(connectDone)
	}()

	// Echo whatever the PTY slave receives back into the master, so the
	// client should observe its own bytes multicast back.
	go func() {
		buf := make([]byte, 64)
		n, err := p.Slave.Read(buf)
		if err == nil && n > 0 {
			p.Slave.Write(buf[:n])
		}
	}()

	time.Sleep(20 * time.Millisecond) // let the client's sink register
	go clientInW.Write([]byte("ping\n"))

	require.Eventually(t, func() bool {
		return strings.Contains(clientOut.String(), "ping")
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-connectDone:
	case <-time.After(time.Second):
		t.Fatal("Connect did not return after cancellation")
	}
}
