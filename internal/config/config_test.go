package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "webvisor.toml")
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))
	return file
}

const fullConfig = `
environment = "qa"
env = ["NODE_ENV=production", "SHARED=top"]
env_files = ["app.env"]

[log]
level = "debug"
format = "json"

[metrics]
enabled = true
worker_path = "/metrics"

[admin]
listen = "127.0.0.1:9900"

[history]
dsn = "sqlite:///var/lib/webvisor/history.db"

[proxy]
max_mirror_body_bytes = 1048576
mirror_timeout = "5s"
upstream_timeout = "20s"

[[apps]]
name = "edge"
process_count = 4
auto_restart = true
listen_host = "0.0.0.0"
port = 80
shutdown_timeout = "10s"
env = ["EDGE=1"]
  [apps.ssl]
  enable = true
  force = true
  port = 443
  cert_path = "/etc/ssl/edge.crt"
  key_path = "/etc/ssl/edge.key"
  [apps.run_as]
  enable = true
  uid = "www-data"
  [apps.log]
  dir = "/var/log/webvisor"

[[apps]]
name = "docs"
enabled = false
handler = "static"
static_dir = "/srv/docs"
port = 8081

[[proxy_rules]]
public_hostname = "x.example.com"
change_origin = true
target = { url = "http://localhost:4001" }
mirrors = [{ url = "http://localhost:4002" }]
`

func TestLoad_Full(t *testing.T) {
	file := writeConfig(t, fullConfig)
	c, err := Load(file)
	require.NoError(t, err)
	require.NoError(t, c.Validate(nil))

	assert.Equal(t, "qa", c.Environment)
	assert.Equal(t, file, c.Path)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, "/metrics", c.Metrics.WorkerPath)
	assert.Equal(t, "127.0.0.1:9900", c.Admin.Listen)
	assert.Equal(t, "sqlite:///var/lib/webvisor/history.db", c.History.DSN)
	assert.Equal(t, int64(1<<20), c.Proxy.MaxMirrorBodyBytes)
	assert.Equal(t, 5*time.Second, c.Proxy.MirrorTimeout)
	assert.Equal(t, 20*time.Second, c.Proxy.UpstreamTimeout)
	assert.Equal(t, filepath.Join(filepath.Dir(file), "app.env"), c.EnvFiles[0])

	require.Len(t, c.Apps, 2)
	edge, ok := c.App("edge")
	require.True(t, ok)
	assert.True(t, edge.Enabled, "enabled defaults to true")
	assert.Equal(t, 4, edge.ProcessCount)
	assert.True(t, edge.AutoRestart)
	assert.Equal(t, 80, edge.Port)
	assert.Equal(t, 10*time.Second, edge.ShutdownTimeout)
	assert.True(t, edge.SSL.Force)
	assert.Equal(t, 443, edge.SSL.Port)
	assert.Equal(t, "www-data", edge.RunAs.UID)
	assert.Equal(t, "/var/log/webvisor", edge.Log.Dir)
	assert.Equal(t, []string{"EDGE=1"}, edge.Env)

	docs, ok := c.App("docs")
	require.True(t, ok)
	assert.False(t, docs.Enabled)
	assert.Len(t, c.EnabledApps(), 1)

	require.Len(t, c.ProxyRules, 1)
	r := c.ProxyRules[0]
	assert.Equal(t, "x.example.com", r.PublicHostname)
	assert.True(t, r.ChangeOrigin)
	assert.Equal(t, "http://localhost:4001", r.Target.URL)
	require.Len(t, r.Mirrors, 1)
	assert.Equal(t, "http://localhost:4002", r.Mirrors[0].URL)

	_, ok = c.App("missing")
	assert.False(t, ok)
}

func TestLoad_EnvironmentFromEnv(t *testing.T) {
	t.Setenv("WEBVISOR_ENV", "local")
	c, err := Load(writeConfig(t, fullConfig))
	require.NoError(t, err)
	assert.Equal(t, "local", c.Environment)
}

func TestLoad_DefaultEnvironment(t *testing.T) {
	c, err := Load(writeConfig(t, "[[apps]]\nname = \"a\"\nport = 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultEnvironment, c.Environment)
	assert.NoError(t, c.Validate(nil))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	data := `
[log]
level = "loud"

[[apps]]
port = 70000

[[apps]]
name = "dup"
port = 80
handler = "php"
  [apps.ssl]
  enable = true
  [apps.run_as]
  enable = true

[[apps]]
name = "dup"
port = 81
handler = "redirect"

[[proxy_rules]]
public_hostname = ""
target = { url = "ftp://files" }
mirrors = [{ url = "not a url" }]

[[proxy_rules]]
public_hostname = "Edge.example.com"
target = { url = "http://127.0.0.1:9000" }

[[proxy_rules]]
public_hostname = "edge.example.com."
target = { url = "http://127.0.0.1:9001" }
`
	c, err := Load(writeConfig(t, data))
	require.NoError(t, err)

	err = c.Validate(nil)
	require.Error(t, err)

	fields := map[string]bool{}
	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	for _, e := range joined.Unwrap() {
		var ce *ConfigurationError
		require.True(t, errors.As(e, &ce), "unexpected error %v", e)
		fields[ce.Field] = true
	}
	for _, f := range []string{
		"log.level",
		"apps[0].name",
		"apps[0].port",
		"apps[dup].handler",
		"apps[dup].ssl.cert_path",
		"apps[dup].ssl.key_path",
		"apps[dup].ssl.port",
		"apps[dup].run_as.uid",
		"apps[dup].name",
		"apps[dup].redirect_to",
		"proxy_rules[0].public_hostname",
		"proxy_rules[0].target.url",
		"proxy_rules[0].mirrors[0].url",
		"proxy_rules[2].public_hostname",
	} {
		assert.True(t, fields[f], "missing error for %s in %v", f, err)
	}
}

func TestValidate_RunAsRequiresSeparateWorkers(t *testing.T) {
	for _, tc := range []struct {
		env     string
		count   int
		wantErr bool
	}{
		{"prod", 0, true},
		{"prod", 1, true},
		{"prod", 2, false},
		{"local", 1, false},
	} {
		t.Run(fmt.Sprintf("%s/%d", tc.env, tc.count), func(t *testing.T) {
			c, err := Load(writeConfig(t, fmt.Sprintf(`
environment = %q
[[apps]]
name = "edge"
process_count = %d
  [apps.run_as]
  enable = true
  uid = "www-data"
`, tc.env, tc.count)))
			require.NoError(t, err)
			err = c.Validate([]string{"proxy"})
			if !tc.wantErr {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "apps[edge].run_as.enable", ce.Field)
		})
	}
}

func TestValidate_CustomHandlers(t *testing.T) {
	c, err := Load(writeConfig(t, "[[apps]]\nname = \"a\"\nhandler = \"custom\"\n"))
	require.NoError(t, err)
	assert.Error(t, c.Validate(nil))
	assert.NoError(t, c.Validate([]string{"custom"}))
}

func TestGlobalEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "app.env")
	require.NoError(t, os.WriteFile(envFile, []byte("# comment\nSHARED=file\nFROM_FILE=yes\n\nbroken\n"), 0o644))

	c := &Config{Env: []string{"SHARED=top", "NODE_ENV=production"}, EnvFiles: []string{envFile}}
	got, err := c.GlobalEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"FROM_FILE=yes", "NODE_ENV=production", "SHARED=top"}, got)

	list, err := LoadEnvFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"FROM_FILE=yes", "SHARED=file"}, list)

	c.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	_, err = c.GlobalEnv()
	assert.Error(t, err)
}
