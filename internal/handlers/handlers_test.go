package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/webvisor/internal/logger"
	"github.com/loykin/webvisor/internal/process"
	"github.com/loykin/webvisor/internal/proxy"
	"github.com/loykin/webvisor/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Kinds(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"proxy", "redirect", "static"}, r.Kinds())

	r.Register("hello", func(process.Spec, Deps) (http.Handler, error) {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "hi") }), nil
	})
	assert.Contains(t, r.Kinds(), "hello")

	h, err := r.Factory(Deps{})(process.Spec{Name: "a", Handler: "hello"})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "hi", rec.Body.String())

	_, err = r.Factory(Deps{})(process.Spec{Name: "a", Handler: "php"})
	assert.ErrorContains(t, err, "unknown handler kind")
}

func TestProxyKind(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "backend:"+r.Host)
	}))
	defer backend.Close()

	deps := Deps{
		Environment: worker.EnvLocal,
		Rules:       []proxy.Rule{{PublicHostname: "x.example.com", Target: proxy.Target{URL: backend.URL}}},
		Logger:      logger.Discard(),
	}
	h, err := NewRegistry().Factory(deps)(process.Spec{Name: "edge"})
	require.NoError(t, err)
	_, drains := h.(worker.Drainer)
	assert.True(t, drains)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "x.example.com"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "backend:x.example.com", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "other.example.com"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaticKind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	h, err := Static(process.Spec{Name: "docs", StaticDir: dir}, Deps{})
	require.NoError(t, err)

	for path, want := range map[string]string{"/": "<h1>home</h1>", "/app.js": "console.log(1)"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, want, rec.Body.String(), path)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.css", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = Static(process.Spec{Name: "docs"}, Deps{})
	assert.Error(t, err)
}

func TestRedirectKind(t *testing.T) {
	h, err := Redirect(process.Spec{Name: "old", RedirectTo: "https://new.example.com/"}, Deps{})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a/b?c=1", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://new.example.com/a/b?c=1", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/form", strings.NewReader("x=1")))
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)

	_, err = Redirect(process.Spec{Name: "old"}, Deps{})
	assert.Error(t, err)
}
