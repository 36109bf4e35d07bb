package detector

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/loykin/webvisor/internal/process"
)

// PIDFileDetector detects a supervisor through the pid file written by serve.
// A record carrying start_unix is only alive when the pid still belongs to
// the process that wrote it.
type PIDFileDetector struct {
	PIDFile string
}

func (d PIDFileDetector) Alive() (bool, error) {
	_, alive, err := d.Lookup()
	return alive, err
}

// Lookup returns the record and whether its process is running. A missing
// file is not an error.
func (d PIDFileDetector) Lookup() (process.PIDRecord, bool, error) {
	rec, err := process.ReadPIDFile(d.PIDFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, false, nil
		}
		return rec, false, err
	}
	if rec.StartUnix > 0 {
		cur := StartUnix(rec.PID)
		if cur > 0 && cur != rec.StartUnix {
			return rec, false, nil // pid reused
		}
	}
	return rec, pidAlive(rec.PID), nil
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return pidAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
