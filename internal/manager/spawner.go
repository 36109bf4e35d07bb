package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/webvisor/internal/env"
	"github.com/loykin/webvisor/internal/process"
)

// Worker is a running worker as seen by the supervisor.
type Worker interface {
	PID() int
	Done() <-chan struct{}
	Wait() process.ExitStatus
	Terminate() error
	Kill() error
}

// Spawner creates workers. Spawn returns once the worker has started.
type Spawner interface {
	Spawn(spec process.Spec, slot int) (Worker, error)
}

// ExecSpawner runs every worker as a child process re-executing the
// current binary with the hidden worker command.
type ExecSpawner struct {
	Executable  string // defaults to os.Executable()
	ConfigPath  string
	Environment string
	Env         *env.Env
	// Args overrides the worker command line, mainly for tests.
	Args func(spec process.Spec, slot int) []string
}

// WorkerArgs is the command line of one worker slot.
func (e *ExecSpawner) WorkerArgs(spec process.Spec, slot int) []string {
	if e.Args != nil {
		return e.Args(spec, slot)
	}
	args := []string{"worker", "--config", e.ConfigPath, "--app", spec.Name, "--slot", strconv.Itoa(slot)}
	if e.Environment != "" {
		args = append(args, "--env", e.Environment)
	}
	return args
}

func (e *ExecSpawner) Spawn(spec process.Spec, slot int) (Worker, error) {
	exe := e.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}
	vars := e.Env
	if vars == nil {
		vars = env.New()
	}
	p := process.New(spec, slot)
	cmd := p.ConfigureCmd(exe, e.WorkerArgs(spec, slot), vars.Worker(spec, slot, e.Environment))
	if err := p.Start(cmd); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.InstanceName(slot), err)
	}
	return p, nil
}

// RunFunc serves one application until ctx is cancelled.
type RunFunc func(ctx context.Context, spec process.Spec) error

// InProcSpawner runs the worker as a goroutine of the supervisor process.
// It is used for applications with a process count of 0 or 1.
type InProcSpawner struct {
	Run    RunFunc
	Logger *slog.Logger
}

func (s *InProcSpawner) Spawn(spec process.Spec, slot int) (Worker, error) {
	if s.Run == nil {
		return nil, errors.New("in-process spawner has no run function")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &inprocWorker{cancel: cancel, done: make(chan struct{}), startedAt: time.Now()}
	go w.run(ctx, s.Run, spec, s.Logger)
	return w, nil
}

type inprocWorker struct {
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	mu   sync.Mutex
	exit process.ExitStatus
}

func (w *inprocWorker) run(ctx context.Context, fn RunFunc, spec process.Spec, log *slog.Logger) {
	st := process.ExitStatus{}
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.Error("in-process worker panicked", "app", spec.Name, "panic", r, "stack", string(debug.Stack()))
			}
			st = process.ExitStatus{Code: 2, Err: fmt.Errorf("panic: %v", r)}
		}
		w.mu.Lock()
		w.exit = st
		w.mu.Unlock()
		w.cancel()
		close(w.done)
	}()
	if err := fn(ctx, spec); err != nil {
		st = process.ExitStatus{Code: 1, Err: err}
	}
}

// PID is the supervisor's own pid.
func (w *inprocWorker) PID() int { return os.Getpid() }

func (w *inprocWorker) Done() <-chan struct{} { return w.done }

func (w *inprocWorker) Wait() process.ExitStatus {
	<-w.done
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exit
}

func (w *inprocWorker) Terminate() error {
	w.cancel()
	return nil
}

// Kill cannot stop a goroutine; it cancels like Terminate.
func (w *inprocWorker) Kill() error {
	w.cancel()
	return nil
}
