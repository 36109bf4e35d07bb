//go:build !windows

package process

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/webvisor/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startShell(t *testing.T, p *Process, script string) {
	t.Helper()
	cmd := p.ConfigureCmd("/bin/sh", []string{"-c", script}, os.Environ())
	require.NoError(t, p.Start(cmd))
	require.Greater(t, p.PID(), 0)
	require.False(t, p.StartedAt().IsZero())
}

func TestProcess_ExitCode(t *testing.T) {
	p := New(Spec{Name: "edge"}, 1)
	startShell(t, p, "exit 3")

	st := p.Wait()
	assert.Equal(t, 3, st.Code)
	assert.Empty(t, st.Signal)
	assert.True(t, st.Abnormal())
}

func TestProcess_TerminateReportsSignal(t *testing.T) {
	p := New(Spec{Name: "edge"}, 1)
	startShell(t, p, "sleep 30")

	require.NoError(t, p.Terminate())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}
	st := p.Wait()
	assert.Equal(t, -1, st.Code)
	assert.Equal(t, "terminated", st.Signal)
}

func TestProcess_KillAfterExitIsNoop(t *testing.T) {
	p := New(Spec{Name: "edge"}, 1)
	startShell(t, p, "true")
	p.Wait()
	assert.NoError(t, p.Kill())
	assert.NoError(t, p.Terminate())
}

func TestProcess_WaitBeforeStart(t *testing.T) {
	p := New(Spec{Name: "edge"}, 1)
	st := p.Wait()
	assert.Equal(t, -1, st.Code)
	assert.Error(t, st.Err)
	assert.Equal(t, 0, p.PID())
}

func TestProcess_OutputToRotatingLogs(t *testing.T) {
	dir := t.TempDir()
	p := New(Spec{Name: "edge", Log: logger.Config{Dir: dir}}, 2)
	startShell(t, p, "echo to-out; echo to-err 1>&2")
	require.Equal(t, 0, p.Wait().Code)

	out, err := os.ReadFile(filepath.Join(dir, "edge-2.stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "to-out", strings.TrimSpace(string(out)))

	errOut, err := os.ReadFile(filepath.Join(dir, "edge-2.stderr.log"))
	require.NoError(t, err)
	assert.Equal(t, "to-err", strings.TrimSpace(string(errOut)))
}
