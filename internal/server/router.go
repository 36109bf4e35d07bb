package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/webvisor/internal/history"
	"github.com/loykin/webvisor/internal/manager"
	"github.com/loykin/webvisor/internal/metrics"
	"github.com/loykin/webvisor/internal/process"
)

// Supervisor is the part of the supervisor the admin API reads.
type Supervisor interface {
	StatusAll() []process.Status
	Status(app string) (process.Status, error)
}

// UsageSource returns the latest resource sample of a worker instance.
type UsageSource interface {
	Latest(name string) (metrics.Usage, bool)
}

type Options struct {
	BasePath string
	History  history.Querier // optional
	Usage    UsageSource     // optional
	Metrics  http.Handler    // optional, served on /metrics
}

// Router provides the admin HTTP API over the supervisor.
// Endpoints:
//
//	GET {basePath}/healthz
//	GET {basePath}/status            every application
//	GET {basePath}/status/:app       one application
//	GET {basePath}/history           recent lifecycle events, query: limit
//	GET {basePath}/history/:app      recent events of one application
//	GET {basePath}/metrics           when a metrics handler is configured
type Router struct {
	sup      Supervisor
	opts     Options
	basePath string
}

// AppStatus is one application in the admin API.
type AppStatus struct {
	process.Status
	Workers []WorkerStatus `json:"workers"`
}

// WorkerStatus is a live worker with its latest resource sample.
type WorkerStatus struct {
	process.Handle
	Usage *metrics.Usage `json:"usage,omitempty"`
}

func NewRouter(sup Supervisor, opts Options) *Router {
	return &Router{sup: sup, opts: opts, basePath: basePath(opts.BasePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/status", r.handleStatusAll)
	group.GET("/status/:app", r.handleStatus)
	group.GET("/history", r.handleHistory)
	group.GET("/history/:app", r.handleHistory)
	if r.opts.Metrics != nil {
		group.GET("/metrics", gin.WrapH(r.opts.Metrics))
	}
	return g
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleStatusAll(c *gin.Context) {
	sts := r.sup.StatusAll()
	out := make([]AppStatus, 0, len(sts))
	for _, st := range sts {
		out = append(out, r.view(st))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleStatus(c *gin.Context) {
	app, ok := appParam(c, false)
	if !ok {
		return
	}
	st, err := r.sup.Status(app)
	if errors.Is(err, manager.ErrUnknownApp) {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(c, http.StatusOK, r.view(st))
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.opts.History == nil {
		writeError(c, http.StatusNotImplemented, history.ErrNotQueryable.Error())
		return
	}
	app, ok := appParam(c, true)
	if !ok {
		return
	}
	limit, ok := limitQuery(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	events, err := r.opts.History.Recent(ctx, app, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) view(st process.Status) AppStatus {
	out := AppStatus{Status: st, Workers: make([]WorkerStatus, 0, len(st.Workers))}
	for _, h := range st.Workers {
		ws := WorkerStatus{Handle: h}
		if r.opts.Usage != nil && !h.InProcess {
			if u, ok := r.opts.Usage.Latest(h.Name()); ok {
				ws.Usage = &u
			}
		}
		out.Workers = append(out.Workers, ws)
	}
	return out
}

// NewServer binds addr and serves h in the background. Bind errors are
// returned; serve errors after that are logged.
func NewServer(addr string, h http.Handler, log *slog.Logger) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	server := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && log != nil {
			log.Error("admin server stopped", "addr", ln.Addr().String(), "error", err)
		}
	}()
	return server, ln.Addr(), nil
}
