//go:build !windows

package pty

import "syscall"

// setsid puts the child in a new session so the whole process group can be
// signalled at once with kill(-pgid, ...). Do not also set Setpgid: calling setpgid() after
// setsid() on the session leader returns EPERM on macOS — the same caveat
// the teacher's internal/daemon/instance.go notes for pty.Start.
func setsid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
