package process

import (
	"fmt"
	"time"
)

// ExitStatus is how a worker ended. Code is -1 when the worker was killed by
// a signal or could not report a code.
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
	Err    error  `json:"-"`
}

// Abnormal reports a non-zero exit or a signal.
func (e ExitStatus) Abnormal() bool { return e.Code != 0 || e.Signal != "" }

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "signal: " + e.Signal
	}
	if e.Err != nil && e.Code <= 0 {
		return fmt.Sprintf("exit %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit %d", e.Code)
}

// Handle is the supervisor's record of one live worker.
type Handle struct {
	App       string    `json:"app"`
	Slot      int       `json:"slot"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	InProcess bool      `json:"in_process"`
}

// Name returns the instance name of the handle, e.g. edge-2.
func (h Handle) Name() string { return fmt.Sprintf("%s-%d", h.App, h.Slot) }

// Status is an externally consumable view of one application.
type Status struct {
	App      string   `json:"app"`
	Enabled  bool     `json:"enabled"`
	Desired  int      `json:"desired"`
	Running  int      `json:"running"`
	Spawns   int      `json:"spawns"`
	Restarts int      `json:"restarts"`
	Failures int      `json:"spawn_failures"`
	Workers  []Handle `json:"workers"`
}
