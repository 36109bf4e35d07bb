package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of worker lifecycle event.
type EventType string

const (
	EventSpawn       EventType = "spawn"
	EventExit        EventType = "exit"
	EventSpawnFailed EventType = "spawn_failed"
)

// Record describes the worker an event is about.
type Record struct {
	App       string    `json:"app"`
	Slot      int       `json:"slot"`
	PID       int       `json:"pid"`
	InProcess bool      `json:"in_process"`
	StartedAt time.Time `json:"started_at"`
	ExitCode  int       `json:"exit_code"`
	Signal    string    `json:"signal,omitempty"`
	Error     string    `json:"error,omitempty"`
	Restarted bool      `json:"restarted"` // set on spawn events that replace an exited worker
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Querier is implemented by sinks that can read events back.
type Querier interface {
	Recent(ctx context.Context, app string, limit int) ([]Event, error)
}

// ErrNotQueryable is returned when the configured sink cannot be read.
var ErrNotQueryable = errors.New("history sink does not support queries")

// DefaultLimit bounds Recent queries when the caller passes no limit.
const DefaultLimit = 50

// NormalizeLimit applies DefaultLimit and an upper bound.
func NormalizeLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > 1000 {
		return 1000
	}
	return n
}
