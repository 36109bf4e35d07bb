// Package webvisor embeds the supervisor: it runs the worker pools of a
// configuration, the admin API and, in child processes, a single worker.
package webvisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/loykin/webvisor/internal/config"
	"github.com/loykin/webvisor/internal/env"
	"github.com/loykin/webvisor/internal/handlers"
	"github.com/loykin/webvisor/internal/history"
	"github.com/loykin/webvisor/internal/history/factory"
	"github.com/loykin/webvisor/internal/manager"
	"github.com/loykin/webvisor/internal/metrics"
	"github.com/loykin/webvisor/internal/privilege"
	"github.com/loykin/webvisor/internal/process"
	"github.com/loykin/webvisor/internal/proxy"
	"github.com/loykin/webvisor/internal/server"
	"github.com/loykin/webvisor/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Config = config.Config

type ProxyRule = proxy.Rule

type HandlerBuilder = handlers.Builder

type HandlerDeps = handlers.Deps

type ConfigurationError = config.ConfigurationError

type HandlerRegistry = handlers.Registry

// EnvLocal is the environment that skips privilege downgrade and forced HTTPS.
const EnvLocal = worker.EnvLocal

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// NewRegistry returns a handler registry with the built-in kinds. Register
// custom kinds on it and pass it in Options.
func NewRegistry() *HandlerRegistry { return handlers.NewRegistry() }

type Options struct {
	Logger   *slog.Logger
	Registry *handlers.Registry
	// Executable is re-executed for child workers; defaults to the running binary.
	Executable string
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Registry == nil {
		o.Registry = handlers.NewRegistry()
	}
	if o.Registerer == nil {
		o.Registerer = prometheus.DefaultRegisterer
	}
	if o.Gatherer == nil {
		o.Gatherer = prometheus.DefaultGatherer
	}
	return o
}

// Supervisor runs every application of a configuration.
type Supervisor struct {
	cfg  *Config
	opts Options
	log  *slog.Logger

	sup     *manager.Supervisor
	sink    history.Sink
	usage   *metrics.UsageCollector
	servers []*http.Server

	adminAddr net.Addr
	cancel    context.CancelFunc
}

// New validates cfg and prepares the supervisor; nothing is spawned until Start.
func New(cfg *Config, opts Options) (*Supervisor, error) {
	opts = opts.withDefaults()
	if err := cfg.Validate(opts.Registry.Kinds()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	global, err := cfg.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}
	s := &Supervisor{cfg: cfg, opts: opts, log: opts.Logger}

	var sinks []history.Sink
	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		s.sink = sink
		sinks = append(sinks, sink)
	}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(opts.Registerer); err != nil {
			s.closeSink()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		s.usage = metrics.NewUsageCollector(0, opts.Logger)
		if err := s.usage.Register(opts.Registerer); err != nil {
			s.closeSink()
			return nil, fmt.Errorf("register usage metrics: %w", err)
		}
	}

	s.sup = manager.New(manager.Options{
		Exec: &manager.ExecSpawner{
			Executable:  opts.Executable,
			ConfigPath:  cfg.Path,
			Environment: cfg.Environment,
			Env:         env.FromList(global),
		},
		InProc: &manager.InProcSpawner{
			Logger: opts.Logger,
			Run: func(ctx context.Context, spec process.Spec) error {
				return runWorker(ctx, cfg, spec, WorkerOptions{
					Logger:   opts.Logger,
					Registry: opts.Registry,
					Gatherer: opts.Gatherer,
				}, true)
			},
		},
		Logger: opts.Logger,
		Sinks:  sinks,
	})
	return s, nil
}

// Start spawns the workers and starts the admin and metrics listeners.
// Spawn failures are returned only when no worker could be started.
func (s *Supervisor) Start(ctx context.Context) error {
	s.log.Info("starting supervisor", "environment", s.cfg.Environment, "apps", len(s.cfg.Apps))
	if err := s.sup.Start(ctx, s.cfg.Apps); err != nil {
		running := 0
		for _, st := range s.sup.StatusAll() {
			running += st.Running
		}
		if running == 0 {
			return err
		}
		s.log.Error("some workers failed to start", "error", err)
	}

	var metricsHandler http.Handler
	if s.cfg.Metrics.Enabled {
		metricsHandler = metrics.HandlerFor(s.opts.Gatherer)
	}
	if s.cfg.Admin.Listen != "" {
		opts := server.Options{}
		if q, ok := s.sink.(history.Querier); ok {
			opts.History = q
		}
		if s.usage != nil {
			opts.Usage = s.usage
		}
		if s.cfg.Metrics.Listen == "" {
			opts.Metrics = metricsHandler
		}
		srv, addr, err := server.NewServer(s.cfg.Admin.Listen, server.NewRouter(s.sup, opts).Handler(), s.log)
		if err != nil {
			return fmt.Errorf("admin listener %s: %w", s.cfg.Admin.Listen, err)
		}
		s.servers = append(s.servers, srv)
		s.adminAddr = addr
		s.log.Info("admin api listening", "addr", addr.String())
	}
	if metricsHandler != nil && s.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		srv, addr, err := server.NewServer(s.cfg.Metrics.Listen, mux, s.log)
		if err != nil {
			return fmt.Errorf("metrics listener %s: %w", s.cfg.Metrics.Listen, err)
		}
		s.servers = append(s.servers, srv)
		s.log.Info("metrics listening", "addr", addr.String())
	}
	if s.usage != nil {
		uctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.usage.Start(uctx, s.sup.PIDs)
	}
	return nil
}

// Shutdown stops every worker, then the listeners and the history sink.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.sup.Shutdown(ctx)
	if s.usage != nil {
		s.usage.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range s.servers {
		if e := srv.Shutdown(sctx); e != nil {
			_ = srv.Close()
		}
	}
	s.closeSink()
	s.log.Info("supervisor stopped")
	return err
}

func (s *Supervisor) closeSink() {
	if c, ok := s.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.log.Warn("closing history sink failed", "error", err)
		}
	}
}

// Status returns every application in configuration order.
func (s *Supervisor) Status() []Status { return s.sup.StatusAll() }

// AppStatus returns one application.
func (s *Supervisor) AppStatus(name string) (Status, error) { return s.sup.Status(name) }

// Count returns the live workers of an application.
func (s *Supervisor) Count(name string) int { return s.sup.Count(name) }

// AdminAddr is the bound admin API address, or nil.
func (s *Supervisor) AdminAddr() net.Addr { return s.adminAddr }

// Done is closed once every worker has exited after Shutdown.
func (s *Supervisor) Done() <-chan struct{} { return s.sup.Done() }

type WorkerOptions struct {
	Logger    *slog.Logger
	Registry  *handlers.Registry
	Privilege privilege.Privilege
	Gatherer  prometheus.Gatherer
	OnReady   func(plain, tls net.Addr)
}

// RunWorker serves one application of cfg until ctx is cancelled. It is
// the body of the hidden worker command.
func RunWorker(ctx context.Context, cfg *Config, app string, opts WorkerOptions) error {
	spec, ok := cfg.App(app)
	if !ok {
		return fmt.Errorf("%s: %w", app, manager.ErrUnknownApp)
	}
	return runWorker(ctx, cfg, spec, opts, false)
}

func runWorker(ctx context.Context, cfg *Config, spec process.Spec, opts WorkerOptions, inProcess bool) error {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = handlers.NewRegistry()
	}
	wopts := worker.Options{
		Environment: cfg.Environment,
		Privilege:   opts.Privilege,
		Logger:      opts.Logger,
		OnReady:     opts.OnReady,
		MetricsPath: cfg.Metrics.WorkerPath,
		InProcess:   inProcess,
	}
	if wopts.MetricsPath != "" {
		g := opts.Gatherer
		if g == nil {
			g = prometheus.DefaultGatherer
		}
		wopts.MetricsHandler = metrics.HandlerFor(g)
	}
	factory := opts.Registry.Factory(handlers.Deps{
		Environment: cfg.Environment,
		Rules:       cfg.ProxyRules,
		Proxy:       cfg.Proxy,
		Logger:      opts.Logger,
	})
	err := worker.Run(ctx, spec, factory, wopts)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
