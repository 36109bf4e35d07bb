package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/webvisor/internal/metrics"
	wtls "github.com/loykin/webvisor/internal/tls"
)

// RequestIDHeader carries the id shared by the primary and mirror requests.
const RequestIDHeader = "X-Request-Id"

type route struct {
	host    string
	rule    Rule
	target  *url.URL
	mirrors []*url.URL
	proxy   *httputil.ReverseProxy
}

// Router is an http.Handler routing by exact Host match. Requests it does
// not own are passed to next.
type Router struct {
	routes       map[string]*route
	next         http.Handler
	opts         Options
	logger       *slog.Logger
	transport    http.RoundTripper
	mirrorClient *http.Client
	inflight     sync.WaitGroup
	mirrorSlots  chan struct{}
}

type ctxKey struct{}

// upstreamResult lets the ReverseProxy error handler report back to ServeHTTP.
type upstreamResult struct{ failed bool }

// New builds a router over rules. Duplicate hostnames keep the first rule.
// A nil next answers unmatched requests with 404.
func New(rules []Rule, next http.Handler, opts Options) (*Router, error) {
	opts = opts.withDefaults()
	if next == nil {
		next = http.NotFoundHandler()
	}
	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = 32
		t.ResponseHeaderTimeout = opts.UpstreamTimeout
		transport = t
	}
	rt := &Router{
		routes:      make(map[string]*route, len(rules)),
		next:        next,
		opts:        opts,
		logger:      opts.Logger.With("component", "proxy"),
		transport:   transport,
		mirrorSlots: make(chan struct{}, opts.MaxInflightMirrors),
		mirrorClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for i, r := range rules {
		host := NormalizeHost(r.PublicHostname)
		if host == "" {
			return nil, fmt.Errorf("proxy rule %d: empty public_hostname", i)
		}
		if _, dup := rt.routes[host]; dup {
			rt.logger.Warn("duplicate proxy rule ignored", "public_hostname", host, "index", i)
			continue
		}
		target, err := ParseTarget(r.Target.URL)
		if err != nil {
			return nil, fmt.Errorf("proxy rule %s: target: %w", host, err)
		}
		ro := &route{host: host, rule: r, target: target}
		for j, m := range r.Mirrors {
			mu, err := ParseTarget(m.URL)
			if err != nil {
				return nil, fmt.Errorf("proxy rule %s: mirror %d: %w", host, j, err)
			}
			ro.mirrors = append(ro.mirrors, mu)
		}
		ro.proxy = rt.reverseProxy(ro)
		rt.routes[host] = ro
	}
	return rt, nil
}

func (rt *Router) reverseProxy(ro *route) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(ro.target)
			pr.SetXForwarded()
			if !ro.rule.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
		},
		Transport: rt.transport,
		ErrorLog:  slog.NewLogLogger(rt.logger.Handler(), slog.LevelWarn),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if res, ok := r.Context().Value(ctxKey{}).(*upstreamResult); ok {
				res.failed = true
			}
			if errors.Is(err, context.Canceled) {
				rt.logger.Debug("client went away", "host", ro.host, "path", r.URL.Path)
			} else {
				rt.logger.Error("primary forward failed",
					"host", ro.host, "target", ro.target.Host,
					"request_id", r.Header.Get(RequestIDHeader),
					"error", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err))
			}
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// Len returns the number of routable hosts.
func (rt *Router) Len() int { return len(rt.routes) }

func (rt *Router) lookup(host string) *route {
	host = NormalizeHost(host)
	if ro, ok := rt.routes[host]; ok {
		return ro
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return rt.routes[NormalizeHost(h)]
	}
	return nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Host == "" {
		rt.logger.Error("cannot route request", "path", r.URL.Path, "remote", r.RemoteAddr, "error", ErrMissingHost)
		metrics.IncProxyRequest("", "missing_host")
		rt.next.ServeHTTP(w, r)
		return
	}
	ro := rt.lookup(r.Host)
	if ro == nil {
		rt.logger.Debug("passing request through", "host", r.Host, "error", ErrNoRule)
		metrics.IncProxyRequest("", "no_rule")
		rt.next.ServeHTTP(w, r)
		return
	}
	if ro.rule.SSL.Force && !rt.opts.SkipForce && !wtls.IsSecure(r, ro.rule.SSL.TrustForwardedProto) {
		port := ro.rule.SSL.Port
		if port == 0 {
			port = rt.opts.HTTPSPort
		}
		metrics.IncProxyRequest(ro.host, "redirected")
		wtls.Redirect(w, r, port)
		return
	}

	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.New().String()
		r.Header.Set(RequestIDHeader, id)
	}

	if len(ro.mirrors) > 0 {
		body, ok, err := captureBody(r, rt.opts.MaxMirrorBodyBytes)
		switch {
		case err != nil:
			rt.logger.Warn("reading request body failed", "host", ro.host, "request_id", id, "error", err)
			metrics.IncProxyRequest(ro.host, "bad_request")
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		case !ok:
			rt.logger.Warn("mirroring skipped", "host", ro.host, "request_id", id,
				"limit", rt.opts.MaxMirrorBodyBytes, "error", ErrBodyTooLarge)
			metrics.IncMirrorSkipped(ro.host, "body_too_large")
		default:
			for _, t := range mirrorTasks(ro, r, body, id) {
				select {
				case rt.mirrorSlots <- struct{}{}:
					rt.inflight.Add(1)
					go rt.runMirror(t)
				default:
					rt.logger.Warn("mirroring skipped", "host", ro.host, "mirror", t.url.Host, "request_id", id,
						"max_inflight", rt.opts.MaxInflightMirrors)
					metrics.IncMirrorSkipped(ro.host, "saturated")
				}
			}
		}
	}

	res := &upstreamResult{}
	r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, res))
	start := time.Now()
	ro.proxy.ServeHTTP(w, r)
	metrics.ObserveUpstream(ro.host, time.Since(start))
	if res.failed {
		metrics.IncProxyRequest(ro.host, "upstream_error")
		return
	}
	metrics.IncProxyRequest(ro.host, "forwarded")
}

// Wait blocks until in-flight mirror requests finish or ctx is done.
func (rt *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		rt.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Certificates loads the certificates of rules with ssl.enable, keyed by
// public hostname, for SNI on the worker's TLS listener.
func (rt *Router) Certificates() (map[string]tls.Certificate, error) {
	out := map[string]tls.Certificate{}
	for host, ro := range rt.routes {
		if !ro.rule.SSL.Enable {
			continue
		}
		cert, err := wtls.LoadCertificate(ro.rule.SSL)
		if err != nil {
			return nil, fmt.Errorf("proxy rule %s: %w", host, err)
		}
		out[host] = cert
	}
	return out, nil
}
