package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/webvisor/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteSink_SendAndRecent(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	events := []history.Event{
		{Type: history.EventSpawn, OccurredAt: base, Record: history.Record{App: "edge", Slot: 1, PID: 100, StartedAt: base}},
		{Type: history.EventExit, OccurredAt: base.Add(time.Second), Record: history.Record{App: "edge", Slot: 1, PID: 100, StartedAt: base, ExitCode: -1, Signal: "killed", Error: "signal: killed"}},
		{Type: history.EventSpawn, OccurredAt: base.Add(2 * time.Second), Record: history.Record{App: "edge", Slot: 1, PID: 101, StartedAt: base.Add(2 * time.Second), Restarted: true}},
		{Type: history.EventSpawnFailed, OccurredAt: base.Add(3 * time.Second), Record: history.Record{App: "api", Slot: 1, Error: "fork: resource unavailable"}},
	}
	for _, e := range events {
		require.NoError(t, sink.Send(ctx, e))
	}

	got, err := sink.Recent(ctx, "edge", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, history.EventSpawn, got[0].Type)
	assert.True(t, got[0].Record.Restarted)
	assert.Equal(t, 101, got[0].Record.PID)
	assert.Equal(t, history.EventExit, got[1].Type)
	assert.Equal(t, "killed", got[1].Record.Signal)
	assert.Equal(t, -1, got[1].Record.ExitCode)
	assert.True(t, got[1].Record.StartedAt.Equal(base))

	all, err := sink.Recent(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "api", all[0].Record.App)
	assert.True(t, all[0].Record.StartedAt.IsZero())
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventSpawn, OccurredAt: time.Now(), Record: history.Record{App: "a", Slot: 1}}))
	got, err := sink.Recent(context.Background(), "a", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	var q history.Querier = sink
	_ = q
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
