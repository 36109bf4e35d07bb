// Package manager supervises the worker pool of every configured
// application: it spawns workers, replaces the ones that exit when auto
// restart is on and propagates shutdown.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/webvisor/internal/history"
	"github.com/loykin/webvisor/internal/process"
)

var (
	ErrShuttingDown   = errors.New("supervisor is shutting down")
	ErrAlreadyStarted = errors.New("application already started")
	ErrUnknownApp     = errors.New("unknown application")
)

const (
	shutdownMargin = 5 * time.Second
	killWait       = 5 * time.Second
	historyTimeout = 5 * time.Second
)

type Options struct {
	// Exec spawns child-process workers; InProc runs single workers inside
	// the supervisor.
	Exec   Spawner
	InProc Spawner
	Logger *slog.Logger
	Sinks  []history.Sink
	// ShutdownTimeout is used when Shutdown's context has no deadline.
	// Zero means the longest application drain timeout plus a margin.
	ShutdownTimeout time.Duration
	// KillWait bounds how long killed workers are waited for.
	KillWait time.Duration
}

// Supervisor owns the live worker set. All mutation happens on a single
// control goroutine; the exported methods are messages to it.
type Supervisor struct {
	opts   Options
	log    *slog.Logger
	ctrl   chan CtrlMsg
	exits  chan exitMsg
	done   chan struct{}
	sinkWG sync.WaitGroup

	// owned by the control loop
	specs    map[string]process.Spec
	order    []string
	live     map[string]map[int]*entry
	counts   map[string]*counters
	shutting bool
}

func New(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &Supervisor{
		opts:   opts,
		log:    log,
		ctrl:   make(chan CtrlMsg),
		exits:  make(chan exitMsg, 16),
		done:   make(chan struct{}),
		specs:  make(map[string]process.Spec),
		live:   make(map[string]map[int]*entry),
		counts: make(map[string]*counters),
	}
	go s.run()
	return s
}

func (s *Supervisor) send(ctx context.Context, msg CtrlMsg) (ctrlReply, error) {
	msg.Reply = make(chan ctrlReply, 1)
	select {
	case s.ctrl <- msg:
	case <-s.done:
		return ctrlReply{}, ErrShuttingDown
	case <-ctx.Done():
		return ctrlReply{}, ctx.Err()
	}
	return <-msg.Reply, nil
}

// Start spawns the workers of every enabled spec. Spawn failures are
// logged, counted and returned joined; workers that did start keep running.
func (s *Supervisor) Start(ctx context.Context, specs []process.Spec) error {
	rep, err := s.send(ctx, CtrlMsg{Type: CtrlStart, Specs: specs})
	if err != nil {
		return err
	}
	return rep.err
}

// Status returns the status of app.
func (s *Supervisor) Status(app string) (process.Status, error) {
	rep, err := s.send(context.Background(), CtrlMsg{Type: CtrlStatus, App: app})
	if err != nil {
		return process.Status{}, err
	}
	if rep.err != nil {
		return process.Status{}, rep.err
	}
	return rep.statuses[0], nil
}

// StatusAll returns every application in configuration order. After
// shutdown it returns nil.
func (s *Supervisor) StatusAll() []process.Status {
	rep, err := s.send(context.Background(), CtrlMsg{Type: CtrlStatus})
	if err != nil {
		return nil
	}
	return rep.statuses
}

// Count returns the number of live workers of app.
func (s *Supervisor) Count(app string) int {
	st, err := s.Status(app)
	if err != nil {
		return 0
	}
	return st.Running
}

// PIDs maps instance names of live child-process workers to their pids.
func (s *Supervisor) PIDs() map[string]int32 {
	out := make(map[string]int32)
	for _, st := range s.StatusAll() {
		for _, h := range st.Workers {
			if !h.InProcess {
				out[h.Name()] = int32(h.PID)
			}
		}
	}
	return out
}

// Done is closed once every worker has exited after Shutdown.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Shutdown stops respawning, terminates every worker and waits for them.
// Workers still alive when ctx ends (or the default timeout passes) are
// killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	rep, err := s.send(context.Background(), CtrlMsg{Type: CtrlShutdown})
	if err == nil {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, rep.timeout)
			defer cancel()
		}
		select {
		case <-s.done:
			s.sinkWG.Wait()
			return nil
		case <-ctx.Done():
		}
		if _, err = s.send(context.Background(), CtrlMsg{Type: CtrlKill}); err == nil {
			wait := s.opts.KillWait
			if wait <= 0 {
				wait = killWait
			}
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-s.done:
			case <-t.C:
				return fmt.Errorf("shutdown: workers still running after kill: %w", ctx.Err())
			}
		}
	}
	<-s.done
	s.sinkWG.Wait()
	return nil
}
