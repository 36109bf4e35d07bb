package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/webvisor/internal/history"
	"github.com/loykin/webvisor/internal/history/opensearch"
	"github.com/loykin/webvisor/internal/history/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkFromDSN(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		dsn  string
		ok   bool
	}{
		{"empty", "", false},
		{"unknown scheme", "invalid://test", false},
		{"sqlite prefixed", "sqlite://" + filepath.Join(dir, "a.db"), true},
		{"sqlite bare path", filepath.Join(dir, "b.db"), true},
		{"sqlite memory", "sqlite://:memory:", true},
		{"opensearch", "opensearch://localhost:9200/history", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sink, err := NewSinkFromDSN(c.dsn)
			if !c.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, sink)
			if closer, ok := sink.(interface{ Close() error }); ok {
				_ = closer.Close()
			}
		})
	}
}

func TestNewSinkFromDSN_Types(t *testing.T) {
	s, err := NewSinkFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Sink{}, s)
	_, queryable := s.(history.Querier)
	assert.True(t, queryable)

	o, err := NewSinkFromDSN("elasticsearch://es:9200/idx")
	require.NoError(t, err)
	assert.IsType(t, &opensearch.Sink{}, o)
	_, queryable = o.(history.Querier)
	assert.True(t, queryable)
}

func TestParseClickHouseDSN(t *testing.T) {
	opts, err := ParseClickHouseDSN("clickhouse://writer:secret@ch:9440/logs?table=events")
	require.NoError(t, err)
	assert.Equal(t, "ch:9440", opts.Addr)
	assert.Equal(t, "logs", opts.Database)
	assert.Equal(t, "events", opts.Table)
	assert.Equal(t, "writer", opts.Username)
	assert.Equal(t, "secret", opts.Password)

	opts, err = ParseClickHouseDSN("clickhouse://")
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", opts.Addr)
}

func TestParseOpenSearchDSN(t *testing.T) {
	opts, err := ParseOpenSearchDSN("opensearch://search:9200/")
	require.NoError(t, err)
	assert.Equal(t, "http://search:9200", opts.BaseURL)
	assert.Empty(t, opts.Index)
	assert.Equal(t, opensearch.DefaultIndex, opensearch.New(opts).Index())

	opts, err = ParseOpenSearchDSN("opensearch://admin:pw@search:9200/events?tls=true")
	require.NoError(t, err)
	assert.Equal(t, "https://search:9200", opts.BaseURL)
	assert.Equal(t, "events", opts.Index)
	assert.Equal(t, "admin", opts.Username)
	assert.Equal(t, "pw", opts.Password)
}
