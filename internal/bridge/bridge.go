// Package bridge implements the async PTY bridge from SPEC_FULL.md §4.7
// (C7): one continuous pump over a PTY's master end multicasts read bytes
// to every currently scoped client writer, while any number of client
// readers may simultaneously feed the master write side — the Go
// realization of spec.md §9's resolution that multiple clients may drive
// one Session concurrently, merged on write, multicast on read.
//
// It is grounded on the teacher's internal/daemon/instance.go ptyReader,
// generalized from "exactly one attached conn" to N concurrent sinks via
// internal/piping's Graph — the same C2 piping engine internal/piping/piping_test.go
// exercises directly, driven here through its ConnectDynamic entry point
// since the bridge's sink set changes as clients join and leave.
package bridge

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/ianremillard/rdbg/internal/piping"
)

// Bridge multicasts one PTY master's output to any number of scoped
// writers and serializes any number of scoped readers' input into the
// master.
type Bridge struct {
	master *os.File
	graph  *piping.Graph

	mu    sync.Mutex
	sinks map[*piping.Sink]struct{}
}

// New starts a Bridge pumping master's output to whatever writers are
// scoped in via ReadInto at any given moment.
func New(master *os.File) *Bridge {
	b := &Bridge{master: master, graph: piping.NewGraph(), sinks: make(map[*piping.Sink]struct{})}
	go b.graph.ConnectDynamic(master, b.liveSinks)
	return b
}

func (b *Bridge) liveSinks() []*piping.Sink {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*piping.Sink, 0, len(b.sinks))
	for s := range b.sinks {
		out = append(out, s)
	}
	return out
}

// ReadInto is the scoped acquisition from spec.md §4.7: w joins the
// multicast fan-out of master-read bytes until ctx is done, at which point
// it is removed. A slow or closed w does not stall any other writer, since
// each gets its own ring-buffered internal/piping.Sink.
func (b *Bridge) ReadInto(ctx context.Context, w io.Writer) {
	sink := piping.NewSink(w)
	sink.Acquire()
	b.mu.Lock()
	b.sinks[sink] = struct{}{}
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.sinks, sink)
	b.mu.Unlock()
	sink.Release()
}

// WriteInto is the scoped acquisition that copies bytes from r into the
// master until r hits EOF or ctx is done (spec.md §4.7). Cancellation via
// ctx returns promptly; the copy goroutine itself exits once its next Read
// call on r unblocks, matching "cancels the copy task cleanly" without
// requiring r to support cancellable reads.
func (b *Bridge) WriteInto(ctx context.Context, r io.Reader) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, piping.ChunkSize)
		for {
			n, err := r.Read(buf)
			if ctx.Err() != nil {
				return
			}
			if n > 0 {
				if _, werr := b.master.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// Connect is read_into and write_into together, for the duration of ctx
// (spec.md §4.7). Either direction ending on its own — most commonly r
// hitting EOF because the client disconnected — tears down the other
// direction too, so Connect always returns once the client is gone, not
// only on explicit cancellation.
func (b *Bridge) Connect(ctx context.Context, r io.Reader, w io.Writer) {
	innerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		b.ReadInto(innerCtx, w)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		b.WriteInto(innerCtx, r)
	}()
	wg.Wait()
}
