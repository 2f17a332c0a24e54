package main

import (
	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

// exitCodeFor maps an error to one of the three exit codes spec.md §6
// names: 0 on clean detach (never reached here, since main only calls
// os.Exit on a non-nil error), 1 on failure-to-connect, 2 on any other
// internal error surfaced to the client.
func exitCodeFor(err error) int {
	if rdbgerr.Is(err, rdbgerr.Transport) {
		return 1
	}
	return 2
}
