// Package piping implements the fan-in/fan-out byte copier described in
// SPEC_FULL.md §4.2 (C2): a directed reader→{writer} graph with a per-writer
// buffer, where a reader hitting EOF cascades into removing any writer whose
// last reader just left.
//
// The teacher's own ptyReader (internal/daemon/instance.go) hand-rolls this
// for a single reader/single writer pair with a plain byte slice as the
// buffer. This package generalises that to N readers and N writers and
// backs the per-writer buffer with a github.com/smallnest/ringbuffer so a
// slow writer smooths out bursts instead of the producing goroutine
// blocking directly on the writer's Write call.
package piping

import (
	"io"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// ChunkSize is the suggested read chunk size from SPEC_FULL.md §4.2.
const ChunkSize = 4096

// defaultBufferSize is the per-writer ring buffer capacity: generous enough
// to smooth ordinary terminal bursts without the reader pump blocking on a
// momentarily slow writer.
const defaultBufferSize = 64 * 1024

// Sink is one writer in the graph, together with the ring buffer that
// decouples it from whichever readers feed it.
type Sink struct {
	w   io.Writer
	buf *ringbuffer.RingBuffer

	mu       sync.Mutex
	refcount int
	closed   bool
}

// NewSink wraps w as a piping destination and starts its drain pump.
func NewSink(w io.Writer) *Sink {
	s := &Sink{
		w:   w,
		buf: ringbuffer.New(defaultBufferSize).SetBlocking(true),
	}
	go s.pump()
	return s
}

func (s *Sink) pump() {
	chunk := make([]byte, ChunkSize)
	for {
		n, err := s.buf.Read(chunk)
		if n > 0 {
			if _, werr := s.w.Write(chunk[:n]); werr != nil {
				// Errors during write drop the failed writer only
				// (SPEC_FULL.md §4.2); the buffer keeps accepting bytes
				// from upstream readers until they are all gone, they are
				// just no longer delivered anywhere.
				s.drainDiscard()
				break
			}
		}
		if err != nil {
			break
		}
	}
	if c, ok := s.w.(io.Closer); ok {
		c.Close()
	}
}

// drainDiscard keeps reading (and throwing away) from the ring buffer so
// upstream Write calls never block forever on a dead writer.
func (s *Sink) drainDiscard() {
	chunk := make([]byte, ChunkSize)
	for {
		if _, err := s.buf.Read(chunk); err != nil {
			return
		}
	}
}

func (s *Sink) write(p []byte) {
	s.buf.Write(p)
}

// Write feeds p into this sink's buffer, for callers outside this package
// that drive a sink directly from a continuous source (internal/bridge's
// master-read multicast, which has no discrete io.Reader per spec.md §4.7).
func (s *Sink) Write(p []byte) {
	s.write(p)
}

// addReader and removeReader track this sink's reader set so the last
// reader leaving can close the sink's output side.
func (s *Sink) addReader() {
	s.mu.Lock()
	s.refcount++
	s.mu.Unlock()
}

// removeReader returns true if this was the last reader, in which case the
// sink's buffer is closed for writing and its pump drains to EOF and closes
// the underlying writer.
func (s *Sink) removeReader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refcount--
	if s.refcount <= 0 && !s.closed {
		s.closed = true
		s.buf.CloseWriter()
		return true
	}
	return false
}

// Acquire and Release are the exported forms of addReader/removeReader, for
// callers outside this package (internal/bridge) that track a sink's
// subscriber count without going through Graph.Connect's discrete-reader
// model.
func (s *Sink) Acquire() { s.addReader() }

// Release is the exported form of removeReader.
func (s *Sink) Release() bool { return s.removeReader() }

// Graph runs reader→{writer} copy loops. Each call to Connect starts one
// pump goroutine for the reader; Sinks may be shared across multiple
// Connect calls, so several readers can feed one writer. Client input to a
// Session's PTY master does not pass through a Sink: internal/bridge's
// WriteInto writes it to the master directly.
type Graph struct{}

// NewGraph constructs an empty piping engine.
func NewGraph() *Graph { return &Graph{} }

// ConnectDynamic is the continuous-source variant of Connect: for a reader
// with no natural upfront sink set — internal/bridge's PTY master pump,
// whose clients join and leave for the life of the process rather than
// being known when the pump starts (SPEC_FULL.md §4.7) — it fans bytes out
// to whatever liveSinks reports on each iteration instead of a fixed slice.
// Callers own each sink's Acquire/Release around their own join/leave
// events; ConnectDynamic does no reader-refcount bookkeeping of its own.
func (g *Graph) ConnectDynamic(r io.Reader, liveSinks func() []*Sink) {
	chunk := make([]byte, ChunkSize)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			data := append([]byte(nil), chunk[:n]...)
			for _, s := range liveSinks() {
				s.Write(data)
			}
		}
		if err != nil {
			return
		}
	}
}

// Connect starts copying bytes read from r to every sink in sinks, in the
// order read, until r hits EOF or errors. On exit it removes r from each
// sink's reader set, cascading a Close to any sink whose reader set becomes
// empty (SPEC_FULL.md §4.2).
func (g *Graph) Connect(r io.Reader, sinks ...*Sink) {
	for _, s := range sinks {
		s.addReader()
	}
	go func() {
		defer func() {
			for _, s := range sinks {
				s.removeReader()
			}
		}()
		chunk := make([]byte, ChunkSize)
		for {
			n, err := r.Read(chunk)
			if n > 0 {
				data := chunk[:n]
				for _, s := range sinks {
					s.write(data)
				}
			}
			if err != nil {
				// Read error or EOF: treat as EOF (SPEC_FULL.md §4.2).
				return
			}
		}
	}()
}
