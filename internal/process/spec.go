package process

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/loykin/webvisor/internal/logger"
)

// Handler kinds understood by the bundled handler registry.
const (
	HandlerProxy    = "proxy"
	HandlerStatic   = "static"
	HandlerRedirect = "redirect"
)

// EnvLocal is the environment in which privilege downgrade and forced
// HTTPS redirects are skipped.
const EnvLocal = "local"

// DefaultShutdownTimeout bounds how long a worker drains in-flight requests.
const DefaultShutdownTimeout = 30 * time.Second

// SSLConfig describes the TLS listener of an application, or the
// certificate of a single proxy rule.
type SSLConfig struct {
	Enable   bool   `json:"enable" mapstructure:"enable"`
	Force    bool   `json:"force" mapstructure:"force"`
	Port     int    `json:"port" mapstructure:"port"`
	KeyPath  string `json:"key_path" mapstructure:"key_path"`
	CertPath string `json:"cert_path" mapstructure:"cert_path"`
	CAPath   string `json:"ca_path" mapstructure:"ca_path"`
	// TrustForwardedProto lets "X-Forwarded-Proto: https" satisfy force.
	// Enable only behind a TLS-terminating proxy that sets the header.
	TrustForwardedProto bool `json:"trust_forwarded_proto" mapstructure:"trust_forwarded_proto"`
}

// RunAsConfig selects the user and group a worker switches to after binding.
// UID and GID accept names or numeric ids. An empty GID means the user's primary group.
type RunAsConfig struct {
	Enable bool   `json:"enable" mapstructure:"enable"`
	UID    string `json:"uid" mapstructure:"uid"`
	GID    string `json:"gid" mapstructure:"gid"`
}

// Spec describes one managed web application.
type Spec struct {
	Name            string        `json:"name" mapstructure:"name"`
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	ProcessCount    int           `json:"process_count" mapstructure:"process_count"` // 0 or 1 runs in-process
	AutoRestart     bool          `json:"auto_restart" mapstructure:"auto_restart"`
	ListenHost      string        `json:"listen_host" mapstructure:"listen_host"`
	Port            int           `json:"port" mapstructure:"port"`
	SSL             SSLConfig     `json:"ssl" mapstructure:"ssl"`
	RunAs           RunAsConfig   `json:"run_as" mapstructure:"run_as"`
	Handler         string        `json:"handler" mapstructure:"handler"`         // factory kind, default proxy
	StaticDir       string        `json:"static_dir" mapstructure:"static_dir"`   // for the static kind
	RedirectTo      string        `json:"redirect_to" mapstructure:"redirect_to"` // for the redirect kind
	Env             []string      `json:"env" mapstructure:"env"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Log             logger.Config `json:"log" mapstructure:"log"`
}

// InProcess reports whether the application runs its single worker inside
// the supervisor process instead of a child process.
func (s Spec) InProcess() bool { return s.ProcessCount <= 1 }

// Workers returns how many workers the supervisor maintains for the spec.
func (s Spec) Workers() int {
	if s.ProcessCount <= 1 {
		return 1
	}
	return s.ProcessCount
}

// Addr is the plaintext bind address.
func (s Spec) Addr() string { return net.JoinHostPort(s.ListenHost, strconv.Itoa(s.Port)) }

// TLSAddr is the TLS bind address.
func (s Spec) TLSAddr() string { return net.JoinHostPort(s.ListenHost, strconv.Itoa(s.SSL.Port)) }

// InstanceName names one worker slot, e.g. edge-2.
func (s Spec) InstanceName(slot int) string { return fmt.Sprintf("%s-%d", s.Name, slot) }

// DrainTimeout returns the configured shutdown timeout or the default.
func (s Spec) DrainTimeout() time.Duration {
	if s.ShutdownTimeout <= 0 {
		return DefaultShutdownTimeout
	}
	return s.ShutdownTimeout
}

// HandlerKind returns the handler kind, defaulting to the proxy.
func (s Spec) HandlerKind() string {
	if s.Handler == "" {
		return HandlerProxy
	}
	return s.Handler
}
