// Package proxy implements the host router: requests are matched to a rule
// by Host, forwarded to the rule's target and copied to its mirrors.
package proxy

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/webvisor/internal/process"
)

// Defaults for Options.
const (
	DefaultMaxMirrorBodyBytes int64 = 10 << 20
	DefaultMirrorTimeout            = 30 * time.Second
	DefaultMaxInflightMirrors       = 256
)

var (
	// ErrUpstreamUnavailable is reported when the primary target cannot be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMissingHost is logged for requests without a Host header.
	ErrMissingHost = errors.New("missing host header")
	// ErrNoRule is logged for hosts no rule matches.
	ErrNoRule = errors.New("no proxy rule for host")
	// ErrBodyTooLarge is logged when a body exceeds the mirror capture limit.
	ErrBodyTooLarge = errors.New("request body exceeds mirror capture limit")
)

// Target is a backend base URL.
type Target struct {
	URL string `json:"url" mapstructure:"url"`
}

// Rule maps one public hostname to a primary target and its mirrors.
type Rule struct {
	PublicHostname string            `json:"public_hostname" mapstructure:"public_hostname"`
	SSL            process.SSLConfig `json:"ssl" mapstructure:"ssl"`
	Target         Target            `json:"target" mapstructure:"target"`
	Mirrors        []Target          `json:"mirrors" mapstructure:"mirrors"`
	ChangeOrigin   bool              `json:"change_origin" mapstructure:"change_origin"` // send the target's host instead of the inbound one
}

// Options tunes the router.
type Options struct {
	MaxMirrorBodyBytes int64         `json:"max_mirror_body_bytes" mapstructure:"max_mirror_body_bytes"`
	MirrorTimeout      time.Duration `json:"mirror_timeout" mapstructure:"mirror_timeout"`
	UpstreamTimeout    time.Duration `json:"upstream_timeout" mapstructure:"upstream_timeout"` // response header timeout, 0 waits forever
	// MaxInflightMirrors caps concurrent mirror requests per worker; mirrors
	// beyond it are skipped.
	MaxInflightMirrors int `json:"max_inflight_mirrors" mapstructure:"max_inflight_mirrors"`

	// HTTPSPort is used for per-rule force redirects when the rule has no ssl.port.
	HTTPSPort int `json:"-" mapstructure:"-"`
	// SkipForce disables per-rule HTTPS redirects, e.g. in the local environment.
	SkipForce bool              `json:"-" mapstructure:"-"`
	Transport http.RoundTripper `json:"-" mapstructure:"-"`
	Logger    *slog.Logger      `json:"-" mapstructure:"-"`
}

func (o Options) withDefaults() Options {
	if o.MaxMirrorBodyBytes <= 0 {
		o.MaxMirrorBodyBytes = DefaultMaxMirrorBodyBytes
	}
	if o.MirrorTimeout <= 0 {
		o.MirrorTimeout = DefaultMirrorTimeout
	}
	if o.MaxInflightMirrors <= 0 {
		o.MaxInflightMirrors = DefaultMaxInflightMirrors
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// ParseTarget validates a target or mirror URL.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

// NormalizeHost lower-cases a hostname for matching.
func NormalizeHost(h string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(h), "."))
}
