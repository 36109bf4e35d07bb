package client

import "time"

// AppStatus is one supervised application as reported by the admin API.
type AppStatus struct {
	App      string         `json:"app"`
	Enabled  bool           `json:"enabled"`
	Desired  int            `json:"desired"`
	Running  int            `json:"running"`
	Spawns   int            `json:"spawns"`
	Restarts int            `json:"restarts"`
	Failures int            `json:"spawn_failures"`
	Workers  []WorkerStatus `json:"workers"`
}

// WorkerStatus is one live worker.
type WorkerStatus struct {
	App       string    `json:"app"`
	Slot      int       `json:"slot"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	InProcess bool      `json:"in_process"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// Usage is the latest resource sample of a worker process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	NumThreads int32   `json:"num_threads"`
	NumFDs     int32   `json:"num_fds,omitempty"`
}

// HistoryEvent is a worker lifecycle event.
type HistoryEvent struct {
	Type       string        `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Record     HistoryRecord `json:"record"`
}

type HistoryRecord struct {
	App       string    `json:"app"`
	Slot      int       `json:"slot"`
	PID       int       `json:"pid"`
	InProcess bool      `json:"in_process"`
	StartedAt time.Time `json:"started_at"`
	ExitCode  int       `json:"exit_code"`
	Signal    string    `json:"signal,omitempty"`
	Error     string    `json:"error,omitempty"`
	Restarted bool      `json:"restarted"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
