//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// termiosBytes flattens a unix.Termios into a stable byte vector, treated
// as opaque by the wire protocol (framing.TerminalConfig.Attrs) and only
// ever interpreted locally by the same platform that produced it.
func termiosBytes(t *unix.Termios) []byte {
	size := int(unsafe.Sizeof(*t))
	buf := make([]byte, size)
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(t)), size))
	return buf
}

// registerExitHook arranges for restore to run once if the process
// receives SIGINT/SIGTERM while raw mode is active, so a killed client
// doesn't leave the user's terminal stuck in raw mode.
func registerExitHook(restore func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			restore()
			signal.Stop(sigCh)
			os.Exit(130)
		}
	}()
}
