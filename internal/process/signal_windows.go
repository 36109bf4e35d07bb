//go:build windows

package process

import "os"

// terminate has no graceful equivalent on Windows; the worker is killed.
func terminate(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

// TerminatePID stops an arbitrary pid, e.g. a daemonized supervisor found
// through its pid file.
func TerminatePID(pid int) error { return terminate(pid) }
