package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/loykin/webvisor/internal/history"
	"github.com/loykin/webvisor/internal/metrics"
	"github.com/loykin/webvisor/internal/process"
)

// CtrlType enumerates control message kinds handled by the control loop.
type CtrlType int

const (
	CtrlStart CtrlType = iota
	CtrlStatus
	CtrlShutdown
	CtrlKill
)

// CtrlMsg is a control-plane message sent to the supervisor loop to
// serialize every change to the live worker set.
type CtrlMsg struct {
	Type  CtrlType
	Specs []process.Spec
	App   string
	Reply chan ctrlReply
}

type ctrlReply struct {
	err      error
	statuses []process.Status
	timeout  time.Duration
}

type exitMsg struct {
	app    string
	slot   int
	worker Worker
	status process.ExitStatus
}

type entry struct {
	handle process.Handle
	worker Worker
}

type counters struct {
	spawns   int
	restarts int
	failures int
}

// run owns specs, live and counts; nothing else touches them.
func (s *Supervisor) run() {
	for {
		select {
		case msg := <-s.ctrl:
			var rep ctrlReply
			switch msg.Type {
			case CtrlStart:
				rep.err = s.startAll(msg.Specs)
			case CtrlStatus:
				rep.statuses, rep.err = s.statuses(msg.App)
			case CtrlShutdown:
				rep.timeout = s.beginShutdown()
			case CtrlKill:
				s.killAll()
			}
			if msg.Reply != nil {
				msg.Reply <- rep
			}
		case m := <-s.exits:
			s.handleExit(m)
		}
		if s.shutting && s.liveCount() == 0 {
			close(s.done)
			return
		}
	}
}

func (s *Supervisor) startAll(specs []process.Spec) error {
	if s.shutting {
		return ErrShuttingDown
	}
	var errs []error
	for _, spec := range specs {
		if _, ok := s.specs[spec.Name]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", spec.Name, ErrAlreadyStarted))
			continue
		}
		s.specs[spec.Name] = spec
		s.order = append(s.order, spec.Name)
		s.counts[spec.Name] = &counters{}
		s.live[spec.Name] = make(map[int]*entry)
		if !spec.Enabled {
			s.log.Info("application disabled", "app", spec.Name)
			continue
		}
		for slot := 1; slot <= spec.Workers(); slot++ {
			if err := s.spawn(spec, slot, false); err != nil {
				errs = append(errs, err)
			}
		}
		s.log.Info("application started", "app", spec.Name, "workers", len(s.live[spec.Name]), "in_process", spec.InProcess())
	}
	return errors.Join(errs...)
}

func (s *Supervisor) spawn(spec process.Spec, slot int, restarted bool) error {
	sp := s.opts.Exec
	if spec.InProcess() {
		sp = s.opts.InProc
	}
	c := s.counts[spec.Name]
	if sp == nil {
		err := fmt.Errorf("spawn %s: no spawner configured", spec.InstanceName(slot))
		c.failures++
		metrics.IncSpawnFailure(spec.Name)
		s.log.Error("spawn failed", "app", spec.Name, "slot", slot, "error", err)
		return err
	}
	w, err := sp.Spawn(spec, slot)
	if err != nil {
		c.failures++
		metrics.IncSpawnFailure(spec.Name)
		s.log.Error("spawn failed", "app", spec.Name, "slot", slot, "error", err)
		s.record(history.EventSpawnFailed, history.Record{
			App: spec.Name, Slot: slot, InProcess: spec.InProcess(), Error: err.Error(), Restarted: restarted,
		})
		return fmt.Errorf("spawn %s: %w", spec.InstanceName(slot), err)
	}
	h := process.Handle{App: spec.Name, Slot: slot, PID: w.PID(), StartedAt: time.Now(), InProcess: spec.InProcess()}
	s.live[spec.Name][slot] = &entry{handle: h, worker: w}
	c.spawns++
	metrics.IncSpawn(spec.Name)
	if restarted {
		c.restarts++
		metrics.IncRestart(spec.Name)
	}
	metrics.SetRunning(spec.Name, len(s.live[spec.Name]))
	s.log.Info("worker spawned", "app", spec.Name, "slot", slot, "pid", h.PID, "restarted", restarted)
	s.record(history.EventSpawn, history.Record{
		App: spec.Name, Slot: slot, PID: h.PID, InProcess: h.InProcess, StartedAt: h.StartedAt, Restarted: restarted,
	})

	go func() {
		st := w.Wait()
		select {
		case s.exits <- exitMsg{app: spec.Name, slot: slot, worker: w, status: st}:
		case <-s.done:
		}
	}()
	return nil
}

func (s *Supervisor) handleExit(m exitMsg) {
	slots := s.live[m.app]
	e, ok := slots[m.slot]
	if !ok || e.worker != m.worker {
		return
	}
	delete(slots, m.slot)
	metrics.IncExit(m.app, m.status.Abnormal())
	metrics.SetRunning(m.app, len(slots))

	attrs := []any{"app", m.app, "slot", m.slot, "pid", e.handle.PID, "code", m.status.Code}
	if m.status.Signal != "" {
		attrs = append(attrs, "signal", m.status.Signal)
	}
	if m.status.Err != nil {
		attrs = append(attrs, "error", m.status.Err)
	}
	if m.status.Abnormal() && !s.shutting {
		s.log.Warn("worker exited", attrs...)
	} else {
		s.log.Info("worker exited", attrs...)
	}
	rec := history.Record{
		App: m.app, Slot: m.slot, PID: e.handle.PID, InProcess: e.handle.InProcess,
		StartedAt: e.handle.StartedAt, ExitCode: m.status.Code, Signal: m.status.Signal,
	}
	if m.status.Err != nil {
		rec.Error = m.status.Err.Error()
	}
	s.record(history.EventExit, rec)

	if s.shutting {
		return
	}
	spec := s.specs[m.app]
	if !spec.AutoRestart {
		s.log.Info("auto restart disabled, worker not replaced", "app", m.app, "slot", m.slot, "running", len(slots))
		return
	}
	_ = s.spawn(spec, m.slot, true)
}

func (s *Supervisor) statuses(app string) ([]process.Status, error) {
	names := s.order
	if app != "" {
		if _, ok := s.specs[app]; !ok {
			return nil, fmt.Errorf("%s: %w", app, ErrUnknownApp)
		}
		names = []string{app}
	}
	out := make([]process.Status, 0, len(names))
	for _, name := range names {
		spec := s.specs[name]
		c := s.counts[name]
		st := process.Status{
			App:      name,
			Enabled:  spec.Enabled,
			Running:  len(s.live[name]),
			Spawns:   c.spawns,
			Restarts: c.restarts,
			Failures: c.failures,
			Workers:  make([]process.Handle, 0, len(s.live[name])),
		}
		if spec.Enabled {
			st.Desired = spec.Workers()
		}
		for _, e := range s.live[name] {
			st.Workers = append(st.Workers, e.handle)
		}
		sort.Slice(st.Workers, func(i, j int) bool { return st.Workers[i].Slot < st.Workers[j].Slot })
		out = append(out, st)
	}
	return out, nil
}

// beginShutdown stops respawning and asks every live worker to terminate.
// It returns the default deadline: the longest drain timeout plus a margin.
func (s *Supervisor) beginShutdown() time.Duration {
	timeout := s.opts.ShutdownTimeout
	if !s.shutting {
		s.shutting = true
		n := s.liveCount()
		s.log.Info("shutting down workers", "workers", n)
		s.eachLive(func(e *entry) {
			if err := e.worker.Terminate(); err != nil {
				s.log.Warn("terminate failed", "app", e.handle.App, "slot", e.handle.Slot, "pid", e.handle.PID, "error", err)
			}
		})
	}
	if timeout <= 0 {
		timeout = process.DefaultShutdownTimeout
		for _, spec := range s.specs {
			if d := spec.DrainTimeout(); d > timeout {
				timeout = d
			}
		}
		timeout += shutdownMargin
	}
	return timeout
}

func (s *Supervisor) killAll() {
	s.eachLive(func(e *entry) {
		s.log.Warn("worker did not stop in time, killing", "app", e.handle.App, "slot", e.handle.Slot, "pid", e.handle.PID)
		if err := e.worker.Kill(); err != nil {
			s.log.Error("kill failed", "app", e.handle.App, "slot", e.handle.Slot, "pid", e.handle.PID, "error", err)
		}
	})
}

func (s *Supervisor) eachLive(fn func(*entry)) {
	for _, name := range s.order {
		for _, e := range s.live[name] {
			fn(e)
		}
	}
}

func (s *Supervisor) liveCount() int {
	n := 0
	for _, slots := range s.live {
		n += len(slots)
	}
	return n
}

// record sends e to every sink without blocking the control loop.
func (s *Supervisor) record(typ history.EventType, rec history.Record) {
	if len(s.opts.Sinks) == 0 {
		return
	}
	e := history.Event{Type: typ, OccurredAt: time.Now().UTC(), Record: rec}
	s.sinkWG.Add(1)
	go func() {
		defer s.sinkWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
		defer cancel()
		for _, sink := range s.opts.Sinks {
			if err := sink.Send(ctx, e); err != nil {
				s.log.Warn("history sink failed", "event", string(typ), "app", rec.App, "error", err)
			}
		}
	}()
}
