// Package worker runs one application's listeners: it binds, optionally
// terminates TLS, drops privileges and serves until its context ends.
package worker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/webvisor/internal/metrics"
	"github.com/loykin/webvisor/internal/privilege"
	"github.com/loykin/webvisor/internal/process"
	wtls "github.com/loykin/webvisor/internal/tls"
	"golang.org/x/sync/errgroup"
)

// EnvLocal skips privilege downgrade and forced HTTPS redirects.
const EnvLocal = process.EnvLocal

// Factory builds the request handler of an application.
type Factory func(spec process.Spec) (http.Handler, error)

// CertificateProvider is implemented by handlers that bring their own
// per-host certificates, e.g. the host router.
type CertificateProvider interface {
	Certificates() (map[string]tls.Certificate, error)
}

// Drainer is implemented by handlers with background work that should be
// given the rest of the drain window, e.g. in-flight mirror requests.
type Drainer interface {
	Wait(ctx context.Context) error
}

// BindError reports a listener that could not be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }

func (e *BindError) Unwrap() error { return e.Err }

type Options struct {
	Environment string
	Privilege   privilege.Privilege
	Logger      *slog.Logger
	// Listen replaces the default SO_REUSEPORT listener.
	Listen func(network, addr string) (net.Listener, error)
	// MetricsPath, when set, serves MetricsHandler in front of the application.
	MetricsPath    string
	MetricsHandler http.Handler
	// OnReady is called once listeners are bound and privileges dropped.
	OnReady func(plain, tls net.Addr)
	// InProcess marks a worker running inside the supervisor. Its run_as
	// is ignored since a downgrade would change the supervisor's ids.
	InProcess bool
}

// Run serves spec until ctx is cancelled and then shuts down gracefully
// within spec's drain timeout. Bind, certificate and privilege failures are
// returned before anything is served.
func Run(ctx context.Context, spec process.Spec, factory Factory, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("app", spec.Name)
	listenFn := opts.Listen
	if listenFn == nil {
		listenFn = listen
	}
	priv := opts.Privilege
	if priv == nil {
		priv = privilege.System()
	}
	local := opts.Environment == EnvLocal

	handler, err := factory(spec)
	if err != nil {
		return fmt.Errorf("build handler for %s: %w", spec.Name, err)
	}

	plainLn, err := listenFn("tcp", spec.Addr())
	if err != nil {
		return &BindError{Addr: spec.Addr(), Err: err}
	}
	listeners := []net.Listener{plainLn}
	closeAll := func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}

	var tlsLn net.Listener
	if spec.SSL.Enable {
		cfg, err := serverTLS(spec, handler, log)
		if err != nil {
			closeAll()
			return err
		}
		raw, err := listenFn("tcp", spec.TLSAddr())
		if err != nil {
			closeAll()
			return &BindError{Addr: spec.TLSAddr(), Err: err}
		}
		tlsLn = tls.NewListener(raw, cfg)
		listeners = append(listeners, tlsLn)
	}

	if spec.RunAs.Enable {
		switch {
		case local:
			log.Info("privilege downgrade skipped in local environment")
		case opts.InProcess:
			log.Warn("privilege downgrade skipped for in-process worker, set process_count > 1 to run as another user",
				"uid", spec.RunAs.UID)
		case !priv.Supported():
			log.Warn("privilege downgrade not supported on this platform, skipping")
		default:
			c, err := privilege.Downgrade(priv, spec.RunAs)
			if err != nil {
				closeAll()
				return err
			}
			log.Info("privileges dropped", "uid", c.UID, "gid", c.GID)
		}
	}

	app := handler
	if opts.MetricsPath != "" {
		mh := opts.MetricsHandler
		if mh == nil {
			mh = metrics.Handler()
		}
		mux := http.NewServeMux()
		mux.Handle(opts.MetricsPath, mh)
		mux.Handle("/", handler)
		app = mux
	}
	plainHandler := app
	if spec.SSL.Force {
		if local {
			log.Info("https redirect skipped in local environment")
		} else {
			plainHandler = wtls.ForceHTTPS(app, spec.SSL.Port, spec.SSL.TrustForwardedProto)
		}
	}

	errLog := slog.NewLogLogger(log.Handler(), slog.LevelWarn)
	servers := []*http.Server{{Handler: plainHandler, ReadHeaderTimeout: 30 * time.Second, ErrorLog: errLog}}
	if tlsLn != nil {
		servers = append(servers, &http.Server{Handler: app, ReadHeaderTimeout: 30 * time.Second, ErrorLog: errLog})
	}

	if opts.OnReady != nil {
		var tlsAddr net.Addr
		if tlsLn != nil {
			tlsAddr = tlsLn.Addr()
		}
		opts.OnReady(plainLn.Addr(), tlsAddr)
	}
	attrs := []any{"addr", plainLn.Addr().String()}
	if tlsLn != nil {
		attrs = append(attrs, "tls_addr", tlsLn.Addr().String())
	}
	log.Info("worker serving", attrs...)

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		srv, ln := srv, listeners[i]
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), spec.DrainTimeout())
		defer cancel()
		log.Info("worker draining", "timeout", spec.DrainTimeout())
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				errs = append(errs, err)
				_ = srv.Close()
			}
		}
		if d, ok := handler.(Drainer); ok {
			if err := d.Wait(sctx); err != nil {
				log.Warn("background requests abandoned at shutdown", "error", err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("drain: %w", errors.Join(errs...))
		}
		return nil
	})
	err = g.Wait()
	log.Info("worker stopped")
	return err
}

func serverTLS(spec process.Spec, handler http.Handler, log *slog.Logger) (*tls.Config, error) {
	cert, err := wtls.LoadCertificate(spec.SSL)
	if err != nil {
		return nil, err
	}
	set := wtls.NewCertSet(cert)
	if cp, ok := handler.(CertificateProvider); ok {
		extra, err := cp.Certificates()
		if err != nil {
			return nil, err
		}
		for host, c := range extra {
			if !set.Add(host, c) {
				log.Warn("duplicate certificate for host ignored", "host", host)
			}
		}
	}
	return wtls.ServerConfig(set), nil
}
