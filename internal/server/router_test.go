package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/webvisor/internal/history"
	"github.com/loykin/webvisor/internal/logger"
	"github.com/loykin/webvisor/internal/manager"
	"github.com/loykin/webvisor/internal/metrics"
	"github.com/loykin/webvisor/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSupervisor struct {
	statuses []process.Status
	err      error
}

func (f *fakeSupervisor) StatusAll() []process.Status { return f.statuses }

func (f *fakeSupervisor) Status(app string) (process.Status, error) {
	if f.err != nil {
		return process.Status{}, f.err
	}
	for _, st := range f.statuses {
		if st.App == app {
			return st, nil
		}
	}
	return process.Status{}, fmt.Errorf("%s: %w", app, manager.ErrUnknownApp)
}

type fakeUsage map[string]metrics.Usage

func (f fakeUsage) Latest(name string) (metrics.Usage, bool) {
	u, ok := f[name]
	return u, ok
}

type fakeHistory struct {
	gotApp   string
	gotLimit int
	err      error
}

func (f *fakeHistory) Recent(_ context.Context, app string, limit int) ([]history.Event, error) {
	f.gotApp, f.gotLimit = app, limit
	if f.err != nil {
		return nil, f.err
	}
	return []history.Event{{Type: history.EventSpawn, Record: history.Record{App: "edge", Slot: 1}}}, nil
}

func testSupervisor() *fakeSupervisor {
	started := time.Now()
	return &fakeSupervisor{statuses: []process.Status{
		{App: "edge", Enabled: true, Desired: 2, Running: 2, Spawns: 3, Restarts: 1, Workers: []process.Handle{
			{App: "edge", Slot: 1, PID: 101, StartedAt: started},
			{App: "edge", Slot: 2, PID: 102, StartedAt: started},
		}},
		{App: "solo", Enabled: true, Desired: 1, Running: 1, Workers: []process.Handle{
			{App: "solo", Slot: 1, PID: 1, InProcess: true},
		}},
	}}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	usage := fakeUsage{"edge-1": {PID: 101, MemoryMB: 12.5}, "solo-1": {PID: 1}}
	h := NewRouter(testSupervisor(), Options{BasePath: "/admin", Usage: usage}).Handler()

	rec := get(t, h, "/admin/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []AppStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "edge", out[0].App)
	assert.Equal(t, 1, out[0].Restarts)
	require.Len(t, out[0].Workers, 2)
	require.NotNil(t, out[0].Workers[0].Usage)
	assert.InDelta(t, 12.5, out[0].Workers[0].Usage.MemoryMB, 0.001)
	assert.Nil(t, out[0].Workers[1].Usage)
	assert.Nil(t, out[1].Workers[0].Usage, "in-process workers have no separate usage")
}

func TestStatusOne(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sup := testSupervisor()
	h := NewRouter(sup, Options{}).Handler()

	rec := get(t, h, "/status/edge")
	require.Equal(t, http.StatusOK, rec.Code)
	var st AppStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 2, st.Running)
	assert.Equal(t, 102, st.Workers[1].PID)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/status/missing").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/status/a..b").Code)

	sup.err = manager.ErrShuttingDown
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/status/edge").Code)
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := get(t, NewRouter(testSupervisor(), Options{}).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestHistory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hist := &fakeHistory{}
	h := NewRouter(testSupervisor(), Options{History: hist}).Handler()

	rec := get(t, h, "/history/edge?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "edge", hist.gotApp)
	assert.Equal(t, 5, hist.gotLimit)
	var events []history.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, history.EventSpawn, events[0].Type)

	rec = get(t, h, "/history")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", hist.gotApp)
	assert.Equal(t, 0, hist.gotLimit)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/history/edge?limit=abc").Code)

	hist.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/history/edge").Code)

	noHist := NewRouter(testSupervisor(), Options{}).Handler()
	assert.Equal(t, http.StatusNotImplemented, get(t, noHist, "/history/edge").Code)
}

func TestMetricsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mh := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "webvisor_up 1\n") })
	h := NewRouter(testSupervisor(), Options{Metrics: mh}).Handler()
	rec := get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "webvisor_up 1")

	assert.Equal(t, http.StatusNotFound, get(t, NewRouter(testSupervisor(), Options{}).Handler(), "/metrics").Code)
}

func TestNewServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(testSupervisor(), Options{}).Handler()
	srv, addr, err := NewServer("127.0.0.1:0", h, logger.Discard())
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	resp, err := http.Get("http://" + addr.String() + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, _, err = NewServer(addr.String(), h, nil)
	assert.Error(t, err)
}
