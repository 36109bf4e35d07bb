//go:build linux

package privilege

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/loykin/webvisor/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// credential changes cannot be undone, so root tests run in a child copy of
// the test binary selected by this variable.
const childModeEnv = "WEBVISOR_PRIVILEGE_CHILD"

func runChild(t *testing.T, mode string) {
	t.Helper()
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	cmd := exec.Command(os.Args[0], "-test.run=^TestCredentialChild$", "-test.v")
	cmd.Env = append(os.Environ(), childModeEnv+"="+mode)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Contains(t, string(out), "--- PASS: TestCredentialChild")
}

func TestSystem_SetgidAppliesToEveryThread(t *testing.T) {
	runChild(t, "setgid")
}

func TestSystem_DowngradeNumericIDs(t *testing.T) {
	runChild(t, "downgrade")
}

// threadStatus returns the named line of /proc/self/task/*/status per thread.
func threadStatus(t *testing.T, key string) map[string][]string {
	t.Helper()
	files, err := filepath.Glob("/proc/self/task/*/status")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	out := make(map[string][]string, len(files))
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			continue // thread exited
		}
		for _, line := range strings.Split(string(b), "\n") {
			if v, ok := strings.CutPrefix(line, key+":"); ok {
				out[f] = strings.Fields(v)
			}
		}
	}
	return out
}

// pinThreads keeps n goroutines locked to their own OS threads until the
// returned func is called.
func pinThreads(n int) func() {
	var ready, done sync.WaitGroup
	release := make(chan struct{})
	for i := 0; i < n; i++ {
		ready.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			ready.Done()
			<-release
		}()
	}
	ready.Wait()
	return func() {
		close(release)
		done.Wait()
	}
}

func TestCredentialChild(t *testing.T) {
	mode := os.Getenv(childModeEnv)
	if mode == "" {
		t.Skip("runs only as a child of the credential tests")
	}
	release := pinThreads(4)
	defer release()

	switch mode {
	case "setgid":
		require.NoError(t, System().Setgid(65534))
		for f, groups := range threadStatus(t, "Groups") {
			assert.Equal(t, []string{"65534"}, groups, "supplementary groups of %s", f)
		}
		for f, gids := range threadStatus(t, "Gid") {
			for _, g := range gids {
				assert.Equal(t, "65534", g, "gid of %s", f)
			}
		}
	case "downgrade":
		c, err := Downgrade(System(), process.RunAsConfig{Enable: true, UID: "4242", GID: "4243"})
		require.NoError(t, err)
		assert.Equal(t, Credentials{UID: 4242, GID: 4243}, c)
		assert.Equal(t, 4242, os.Getuid())
		assert.Equal(t, 4243, os.Getgid())
		groups, err := os.Getgroups()
		require.NoError(t, err)
		assert.Equal(t, []int{4243}, groups)
		for f, uids := range threadStatus(t, "Uid") {
			for _, u := range uids {
				assert.Equal(t, "4242", u, "uid of %s", f)
			}
		}
		for f, groups := range threadStatus(t, "Groups") {
			assert.Equal(t, []string{"4243"}, groups, "supplementary groups of %s", f)
		}
	default:
		t.Fatalf("unknown child mode %q", mode)
	}
}
