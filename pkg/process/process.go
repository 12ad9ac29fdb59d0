// Package process provides OS process liveness checks for session records.
package process

import (
	"os"
	"syscall"
)

// IsAlive reports whether a process with the given PID is still running.
// It works on Unix-like systems (macOS, Linux).
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// os.FindProcess never fails on Unix, even for a dead PID.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 probes for existence without delivering anything. ESRCH means
	// the process is gone; EPERM means it exists but belongs to someone else,
	// which still counts as alive.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}
