package piping

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

func TestConnectFanOutPreservesOrder(t *testing.T) {
	src := io.NopCloser(bytes.NewBufferString("hello world"))
	out1 := &syncBuffer{}
	out2 := &syncBuffer{}

	g := NewGraph()
	s1 := NewSink(out1)
	s2 := NewSink(out2)
	g.Connect(src, s1, s2)

	require.Eventually(t, func() bool {
		return out1.String() == "hello world" && out2.String() == "hello world"
	}, time.Second, time.Millisecond)
}

// eofReadCloser signals EOF and closes, so the last-reader-leaving cascade
// can be observed.
type eofReadCloser struct {
	io.Reader
	closed chan struct{}
}

func (e *eofReadCloser) Close() error {
	close(e.closed)
	return nil
}

type closeTrackingWriter struct {
	syncBuffer
	closedCh chan struct{}
}

func (c *closeTrackingWriter) Close() error {
	close(c.closedCh)
	return nil
}

func TestSinkClosesWhenLastReaderLeaves(t *testing.T) {
	r := bytes.NewBufferString("bye")
	w := &closeTrackingWriter{closedCh: make(chan struct{})}

	g := NewGraph()
	s := NewSink(w)
	g.Connect(r, s)

	select {
	case <-w.closedCh:
	case <-time.After(time.Second):
		t.Fatal("sink was never closed after its only reader hit EOF")
	}
	require.Equal(t, "bye", w.String())
}

func TestMultipleReadersShareOneSink(t *testing.T) {
	w := &syncBuffer{}
	g := NewGraph()
	s := NewSink(w)

	r1 := bytes.NewBufferString("aaa")
	r2 := bytes.NewBufferString("bbb")
	g.Connect(r1, s)
	g.Connect(r2, s)

	require.Eventually(t, func() bool {
		got := w.String()
		return len(got) == 6
	}, time.Second, time.Millisecond)
}
