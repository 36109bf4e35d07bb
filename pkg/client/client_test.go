package client

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]AppStatus{{App: "edge", Desired: 2, Running: 2, Workers: []WorkerStatus{
			{App: "edge", Slot: 1, PID: 10, Usage: &Usage{MemoryMB: 3}},
			{App: "edge", Slot: 2, PID: 11},
		}}})
	})
	mux.HandleFunc("/status/edge", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(AppStatus{App: "edge", Running: 2})
	})
	mux.HandleFunc("/status/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "missing: unknown application"})
	})
	mux.HandleFunc("/history/edge", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode([]HistoryEvent{{Type: "exit", Record: HistoryRecord{App: "edge", ExitCode: 1}}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	srv := testServer(t)
	c := New(Config{BaseURL: srv.URL + "/"})
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	all, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].Workers, 2)
	require.NotNil(t, all[0].Workers[0].Usage)
	assert.Equal(t, 3.0, all[0].Workers[0].Usage.MemoryMB)

	one, err := c.AppStatus(ctx, "edge")
	require.NoError(t, err)
	assert.Equal(t, 2, one.Running)

	_, err = c.AppStatus(ctx, "missing")
	assert.ErrorContains(t, err, "unknown application")
	assert.ErrorContains(t, err, "404")

	events, err := c.History(ctx, "edge", 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "exit", events[0].Type)
	assert.Equal(t, 1, events[0].Record.ExitCode)
}

func TestClient_Unreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}

func TestDefaultConfigs(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9900", DefaultConfig().BaseURL)
	assert.True(t, DefaultTLSConfig().TLS.Enabled)
	assert.True(t, InsecureConfig().Insecure)
}

func TestClient_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	ca := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(ca, block, 0o600))
	ctx := context.Background()

	trusted := New(Config{BaseURL: srv.URL, TLS: &TLSClientConfig{Enabled: true, CACert: ca}})
	assert.True(t, trusted.IsReachable(ctx))

	untrusted := New(Config{BaseURL: srv.URL, TLS: &TLSClientConfig{Enabled: true}})
	assert.False(t, untrusted.IsReachable(ctx))

	insecure := New(Config{BaseURL: srv.URL, Insecure: true})
	assert.True(t, insecure.IsReachable(ctx))
}
