//go:build !windows

package process

import "syscall"

// terminate sends SIGTERM to the worker.
func terminate(pid int) error {
	err := syscall.Kill(pid, syscall.SIGTERM)
	if err == syscall.ESRCH {
		return nil
	}
	return err
}

// TerminatePID sends a graceful stop request to an arbitrary pid, e.g. a
// daemonized supervisor found through its pid file.
func TerminatePID(pid int) error { return terminate(pid) }
