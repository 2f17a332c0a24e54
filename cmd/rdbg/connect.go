package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/ianremillard/rdbg/internal/framing"
	"github.com/ianremillard/rdbg/internal/rdbgerr"
)

var connectTimeout time.Duration

var connectCmd = &cobra.Command{
	Use:   "connect <ip> <port>",
	Short: "Connect to a listening rdbg target",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := connectTimeout
		if !cmd.Flags().Changed("timeout") {
			timeout = configTimeout()
		}
		return runConnect(args[0], args[1], timeout)
	},
}

func init() {
	connectCmd.Flags().DurationVar(&connectTimeout, "timeout", 10*time.Second, "connect timeout")
}

// configTimeout converts cfg.ConnectTimeoutSeconds into a time.Duration, the
// default source for every verb that dials a target without its own
// explicit --timeout flag (SPEC_FULL.md's config section).
func configTimeout() time.Duration {
	return time.Duration(cfg.ConnectTimeoutSeconds * float64(time.Second))
}

// runConnect implements spec.md §4.11: dial with retry up to a deadline,
// send local terminal config, enter raw mode under a scoped restoration,
// and pipe stdin/stdout against the socket until it closes.
func runConnect(ip, port string, timeout time.Duration) error {
	addr := net.JoinHostPort(ip, port)
	conn, err := dialWithRetry(addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	cfg := localTerminalConfig()
	if err := framing.WriteConfig(conn, cfg); err != nil {
		return err
	}

	restore, err := enterRawMode(os.Stdin)
	if err != nil {
		return rdbgerr.New(rdbgerr.Resource, "enterRawMode", err)
	}
	defer restore()

	pipeUntilClosed(conn)
	return nil
}

// dialWithRetry retries a refused connection until timeout elapses, per
// spec.md §4.11 step 1.
func dialWithRetry(addr string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rdbgerr.New(rdbgerr.Transport, "dialWithRetry",
				fmt.Errorf("could not connect to %s within %s: %w", addr, timeout, lastErr))
		}
		conn, err := net.DialTimeout("tcp", addr, remaining)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(100 * time.Millisecond)
	}
}

// localTerminalConfig reads the local TTY's size and attribute vector, per
// spec.md §3's TerminalConfig, using TERM from the environment as spec.md
// §6 specifies.
func localTerminalConfig() framing.TerminalConfig {
	fd := int(os.Stdin.Fd())

	cols, rows, err := term.GetSize(fd)
	if err != nil {
		cols, rows = 80, 24
	}

	var attrs []byte
	if termios, err := unix.IoctlGetTermios(fd, unix.TCGETS); err == nil {
		attrs = termiosBytes(termios)
	}

	return framing.TerminalConfig{
		TermType: os.Getenv("TERM"),
		Rows:     uint16(rows),
		Cols:     uint16(cols),
		Attrs:    attrs,
	}
}

// enterRawMode puts f into raw mode, returning a restore func that must be
// deferred immediately. It also registers a SIGINT/SIGTERM hook
// (registerExitHook) so a client killed by one of those signals still
// restores the terminal. No hook runs on other abnormal exits, such as a
// panic on a goroutine other than the one holding the deferred restore.
// Once the normal restore has run, the hook's restore call does nothing,
// but a later SIGINT/SIGTERM still makes the hook exit with status 130.
func enterRawMode(f *os.File) (func(), error) {
	fd := int(f.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}

	var restored bool
	restore := func() {
		if restored {
			return
		}
		restored = true
		term.Restore(fd, oldState)
	}
	registerExitHook(restore)
	return restore, nil
}

// pipeUntilClosed copies stdin to conn and conn to stdout concurrently
// until the socket closes, draining stdout on teardown (spec.md §4.11
// step 4).
func pipeUntilClosed(conn net.Conn) {
	done := make(chan struct{}, 1)

	go func() {
		io.Copy(os.Stdout, conn)
		select {
		case done <- struct{}{}:
		default:
		}
	}()
	go func() {
		io.Copy(conn, os.Stdin)
	}()

	<-done
}
