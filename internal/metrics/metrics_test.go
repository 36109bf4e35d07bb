package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncSpawn("edge")
	IncSpawn("edge")
	IncRestart("edge")
	IncSpawnFailure("edge")
	IncExit("edge", true)
	SetRunning("edge", 3)
	IncProxyRequest("x.example.com", "forwarded")
	ObserveUpstream("x.example.com", 25*time.Millisecond)
	IncMirror("x.example.com", false)
	IncMirrorSkipped("x.example.com", "body_too_large")

	assert.Equal(t, 2.0, read(t, workerSpawns.WithLabelValues("edge")))
	assert.Equal(t, 1.0, read(t, workerExits.WithLabelValues("edge", "true")))
	assert.Equal(t, 3.0, read(t, workerRunning.WithLabelValues("edge")))
	assert.Equal(t, 1.0, read(t, proxyMirrors.WithLabelValues("x.example.com", "error")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = len(mf.GetMetric()) > 0
	}
	for _, n := range []string{
		"webvisor_worker_spawns_total",
		"webvisor_worker_restarts_total",
		"webvisor_worker_spawn_failures_total",
		"webvisor_worker_exits_total",
		"webvisor_worker_running",
		"webvisor_proxy_requests_total",
		"webvisor_proxy_upstream_duration_seconds",
		"webvisor_proxy_mirror_requests_total",
		"webvisor_proxy_mirror_skipped_total",
	} {
		assert.True(t, names[n], "expected samples for %s", n)
	}
}

func TestHandlerFor(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "webvisor_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), "webvisor_test_total 1"))
}

func TestUsageCollector_SelfAndCleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewUsageCollector(time.Second, nil)
	require.NoError(t, c.Register(reg))

	pid := int32(os.Getpid())
	c.Collect(map[string]int32{"edge-1": pid})
	u, ok := c.Latest("edge-1")
	require.True(t, ok)
	assert.Equal(t, pid, u.PID)
	assert.Greater(t, u.MemoryRSS, uint64(0))
	assert.Greater(t, read(t, c.memoryMB.WithLabelValues("edge", "1")), 0.0)

	c.Collect(map[string]int32{})
	_, ok = c.Latest("edge-1")
	assert.False(t, ok)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		assert.NotEqual(t, "webvisor_worker_memory_mb", mf.GetName())
	}
}

func TestSample(t *testing.T) {
	u, err := Sample(int32(os.Getpid()))
	require.NoError(t, err)
	assert.Greater(t, u.MemoryMB, 0.0)
}

func TestSplitInstance(t *testing.T) {
	cases := map[string][2]string{
		"edge-2":     {"edge", "2"},
		"my-app-10":  {"my-app", "10"},
		"standalone": {"standalone", "0"},
		"trailing-x": {"trailing-x", "0"},
	}
	for in, want := range cases {
		app, slot := splitInstance(in)
		assert.Equal(t, want[0], app, in)
		assert.Equal(t, want[1], slot, in)
	}
}

func read(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}
