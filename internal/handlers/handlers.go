// Package handlers maps an application's handler kind to the factory that
// builds its request handler.
package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/loykin/webvisor/internal/process"
	"github.com/loykin/webvisor/internal/proxy"
	"github.com/loykin/webvisor/internal/worker"
)

// Deps is what builders may need besides the application spec.
type Deps struct {
	Environment string
	Rules       []proxy.Rule
	Proxy       proxy.Options
	Logger      *slog.Logger
}

// Builder constructs the handler of one application kind.
type Builder func(spec process.Spec, deps Deps) (http.Handler, error)

// Registry holds builders by kind.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry returns a registry with the proxy, static and redirect kinds.
func NewRegistry() *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	r.Register(process.HandlerProxy, Proxy)
	r.Register(process.HandlerStatic, Static)
	r.Register(process.HandlerRedirect, Redirect)
	return r
}

// Register adds or replaces the builder of kind.
func (r *Registry) Register(kind string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[kind] = b
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Factory binds deps and returns the worker factory.
func (r *Registry) Factory(deps Deps) worker.Factory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return func(spec process.Spec) (http.Handler, error) {
		kind := spec.HandlerKind()
		r.mu.RLock()
		b, ok := r.builders[kind]
		r.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown handler kind %q", kind)
		}
		return b(spec, deps)
	}
}

// Proxy builds the host router over the configured proxy rules.
func Proxy(spec process.Spec, deps Deps) (http.Handler, error) {
	opts := deps.Proxy
	opts.Logger = deps.Logger.With("app", spec.Name)
	opts.HTTPSPort = spec.SSL.Port
	opts.SkipForce = deps.Environment == worker.EnvLocal
	return proxy.New(deps.Rules, nil, opts)
}

// Static serves spec.StaticDir.
func Static(spec process.Spec, _ Deps) (http.Handler, error) {
	if spec.StaticDir == "" {
		return nil, fmt.Errorf("%s: static_dir is required", spec.Name)
	}
	e := newEcho()
	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Root:  spec.StaticDir,
		Index: "index.html",
	}))
	return e, nil
}

// Redirect sends every request to spec.RedirectTo, keeping path and query.
func Redirect(spec process.Spec, _ Deps) (http.Handler, error) {
	base := strings.TrimRight(spec.RedirectTo, "/")
	if base == "" {
		return nil, fmt.Errorf("%s: redirect_to is required", spec.Name)
	}
	e := newEcho()
	e.Any("/*", func(c echo.Context) error {
		code := http.StatusMovedPermanently
		if m := c.Request().Method; m != http.MethodGet && m != http.MethodHead {
			code = http.StatusPermanentRedirect
		}
		return c.Redirect(code, base+c.Request().URL.RequestURI())
	})
	return e, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	return e
}
