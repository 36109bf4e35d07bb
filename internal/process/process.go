package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Process is one worker running as a child OS process.
type Process struct {
	spec Spec
	slot int

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	done      chan struct{} // closed once cmd.Wait returns
	exit      ExitStatus
}

func New(spec Spec, slot int) *Process { return &Process{spec: spec, slot: slot} }

// Spec returns the application spec the process was created for.
func (p *Process) Spec() Spec { return p.spec }

// Slot returns the worker slot number.
func (p *Process) Slot() int { return p.slot }

// ConfigureCmd builds the child command for executable and args with the
// given environment. Stdout/stderr go to the spec's rotating log files when
// configured and are inherited from the supervisor otherwise.
func (p *Process) ConfigureCmd(executable string, args []string, env []string) *exec.Cmd {
	// #nosec G204 -- executable is the supervisor's own binary
	cmd := exec.Command(executable, args...)
	cmd.Env = env
	cmd.Stdin = nil
	configureSysProcAttr(cmd)

	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if p.spec.Log.Enabled() {
		if p.spec.Log.Dir != "" {
			_ = os.MkdirAll(p.spec.Log.Dir, 0o750)
		}
		outW, errW, _ := p.spec.Log.Writers(p.spec.InstanceName(p.slot))
		p.mu.Lock()
		p.outCloser, p.errCloser = outW, errW
		p.mu.Unlock()
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}
	return cmd
}

// Start starts cmd and begins waiting for it in the background.
func (p *Process) Start(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		p.CloseWriters()
		return err
	}
	p.mu.Lock()
	p.cmd = cmd
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		st := exitStatusOf(cmd.ProcessState, err)
		p.CloseWriters()
		p.mu.Lock()
		p.exit = st
		p.mu.Unlock()
		close(done)
	}()
	return nil
}

// PID returns the OS pid, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// StartedAt returns the time Start succeeded.
func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// Done is closed when the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait blocks until the process exits and returns how it ended.
func (p *Process) Wait() ExitStatus {
	done := p.Done()
	if done == nil {
		return ExitStatus{Code: -1, Err: errors.New("process not started")}
	}
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Terminate asks the worker to shut down gracefully.
func (p *Process) Terminate() error {
	pid := p.PID()
	if pid == 0 {
		return nil
	}
	return terminate(pid)
}

// Kill stops the worker immediately.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// CloseWriters closes rotating log writers owned by the process.
func (p *Process) CloseWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outCloser != nil {
		_ = p.outCloser.Close()
		p.outCloser = nil
	}
	if p.errCloser != nil {
		_ = p.errCloser.Close()
		p.errCloser = nil
	}
}

func exitStatusOf(state *os.ProcessState, err error) ExitStatus {
	if state == nil {
		return ExitStatus{Code: -1, Err: err}
	}
	st := ExitStatus{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = ws.Signal().String()
	}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		st.Err = err
	}
	return st
}
