package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/loykin/webvisor/internal/logger"
	"github.com/loykin/webvisor/internal/process"
	"github.com/loykin/webvisor/internal/proxy"
	"github.com/spf13/viper"
)

// DefaultEnvironment is used when neither the file, WEBVISOR_ENV nor a flag
// names one.
const DefaultEnvironment = "prod"

// Config represents the top-level TOML structure.
type Config struct {
	Environment string         `toml:"environment" mapstructure:"environment"`
	Env         []string       `toml:"env" mapstructure:"env"`
	EnvFiles    []string       `toml:"env_files" mapstructure:"env_files"`
	Log         logger.Options `toml:"log" mapstructure:"log"`
	Metrics     MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Admin       AdminConfig    `toml:"admin" mapstructure:"admin"`
	History     HistoryConfig  `toml:"history" mapstructure:"history"`
	Proxy       proxy.Options  `toml:"proxy" mapstructure:"proxy"`
	Apps        []process.Spec `toml:"apps" mapstructure:"apps"`
	ProxyRules  []proxy.Rule   `toml:"proxy_rules" mapstructure:"proxy_rules"`

	// Path is the absolute path the configuration was read from.
	Path string `toml:"-" mapstructure:"-"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// Listen serves /metrics on a dedicated address; empty uses the admin listener.
	Listen string `toml:"listen" mapstructure:"listen"`
	// WorkerPath makes every worker serve its own metrics on this path.
	WorkerPath string `toml:"worker_path" mapstructure:"worker_path"`
}

type AdminConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// ConfigurationError names one invalid field.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Field + ": " + e.Reason }

// Load reads a TOML configuration file. WEBVISOR_ENV overrides the
// environment key. Apps without an enabled key are enabled.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigFile(abs)
	v.SetConfigType("toml")
	v.SetDefault("environment", DefaultEnvironment)
	if err := v.BindEnv("environment", "WEBVISOR_ENV"); err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", abs, err)
	}
	defaultEnabled(v)

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", abs, err)
	}
	c.Path = abs
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	dir := filepath.Dir(abs)
	for i, f := range c.EnvFiles {
		if !filepath.IsAbs(f) {
			c.EnvFiles[i] = filepath.Join(dir, f)
		}
	}
	return &c, nil
}

func defaultEnabled(v *viper.Viper) {
	apps, ok := v.Get("apps").([]any)
	if !ok {
		return
	}
	for _, a := range apps {
		if m, ok := a.(map[string]any); ok {
			if _, set := m["enabled"]; !set {
				m["enabled"] = true
			}
		}
	}
	v.Set("apps", apps)
}

// App returns the application named name.
func (c *Config) App(name string) (process.Spec, bool) {
	for _, s := range c.Apps {
		if s.Name == name {
			return s, true
		}
	}
	return process.Spec{}, false
}

// EnabledApps returns the applications the supervisor starts.
func (c *Config) EnabledApps() []process.Spec {
	out := make([]process.Spec, 0, len(c.Apps))
	for _, s := range c.Apps {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// GlobalEnv merges env_files contents in order, then the top-level env
// list, which wins.
func (c *Config) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}

// Validate checks the configuration and returns every problem found,
// joined. handlers lists the accepted handler kinds; nil means the
// built-in ones.
func (c *Config) Validate(handlers []string) error {
	if len(handlers) == 0 {
		handlers = []string{process.HandlerProxy, process.HandlerStatic, process.HandlerRedirect}
	}
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		add("log.format", "must be text or json, got %q", c.Log.Format)
	}
	if c.Metrics.WorkerPath != "" && !strings.HasPrefix(c.Metrics.WorkerPath, "/") {
		add("metrics.worker_path", "must start with /")
	}
	if c.Proxy.MaxMirrorBodyBytes < 0 {
		add("proxy.max_mirror_body_bytes", "must not be negative")
	}
	if c.Proxy.MirrorTimeout < 0 || c.Proxy.UpstreamTimeout < 0 {
		add("proxy", "timeouts must not be negative")
	}

	seen := make(map[string]bool, len(c.Apps))
	for i, s := range c.Apps {
		field := fmt.Sprintf("apps[%d]", i)
		if s.Name == "" {
			add(field+".name", "required")
		} else {
			field = fmt.Sprintf("apps[%s]", s.Name)
			if seen[s.Name] {
				add(field+".name", "duplicate application name")
			}
			seen[s.Name] = true
		}
		if s.ProcessCount < 0 {
			add(field+".process_count", "must not be negative")
		}
		if s.Port < 0 || s.Port > 65535 {
			add(field+".port", "out of range: %d", s.Port)
		}
		if s.ShutdownTimeout < 0 {
			add(field+".shutdown_timeout", "must not be negative")
		}
		if s.SSL.Enable {
			validateSSL(add, field+".ssl", s.SSL)
			if s.SSL.Port <= 0 || s.SSL.Port > 65535 {
				add(field+".ssl.port", "required when ssl is enabled, got %d", s.SSL.Port)
			}
		}
		if s.RunAs.Enable && s.RunAs.UID == "" {
			add(field+".run_as.uid", "required when run_as is enabled")
		}
		if s.RunAs.Enable && s.InProcess() && c.Environment != process.EnvLocal {
			add(field+".run_as.enable", "requires process_count > 1, in-process workers share the supervisor's user")
		}
		kind := s.HandlerKind()
		if !slices.Contains(handlers, kind) {
			add(field+".handler", "unknown handler kind %q", kind)
		}
		switch kind {
		case process.HandlerStatic:
			if s.StaticDir == "" {
				add(field+".static_dir", "required for the static handler")
			}
		case process.HandlerRedirect:
			if u, err := url.Parse(s.RedirectTo); err != nil || u.Scheme == "" || u.Host == "" {
				add(field+".redirect_to", "absolute URL required for the redirect handler")
			}
		}
	}

	hosts := make(map[string]bool, len(c.ProxyRules))
	for i, r := range c.ProxyRules {
		field := fmt.Sprintf("proxy_rules[%d]", i)
		host := proxy.NormalizeHost(r.PublicHostname)
		switch {
		case host == "":
			add(field+".public_hostname", "required")
		case hosts[host]:
			add(field+".public_hostname", "duplicate hostname %q", host)
		}
		hosts[host] = true
		if _, err := proxy.ParseTarget(r.Target.URL); err != nil {
			add(field+".target.url", "%v", err)
		}
		for j, m := range r.Mirrors {
			if _, err := proxy.ParseTarget(m.URL); err != nil {
				add(fmt.Sprintf("%s.mirrors[%d].url", field, j), "%v", err)
			}
		}
		if r.SSL.Enable {
			validateSSL(add, field+".ssl", r.SSL)
		}
	}
	return errors.Join(errs...)
}

func validateSSL(add func(field, format string, args ...any), field string, ssl process.SSLConfig) {
	if ssl.CertPath == "" {
		add(field+".cert_path", "required when ssl is enabled")
	}
	if ssl.KeyPath == "" {
		add(field+".key_path", "required when ssl is enabled")
	}
}
