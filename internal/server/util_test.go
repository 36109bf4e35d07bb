package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "",
		"/":       "",
		"admin":   "/admin",
		"/admin/": "/admin",
		" /a/b/ ": "/a/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, basePath(in), "basePath(%q)", in)
	}
}

func TestIsSafeName(t *testing.T) {
	for _, s := range []string{"web", "Edge-2", "api.v1_x"} {
		assert.True(t, isSafeName(s), s)
	}
	for _, s := range []string{"", "..", "a..b", "a/b", `a\b`, "hello*", "한글"} {
		assert.False(t, isSafeName(s), s)
	}
}

func serveParams(path string, h gin.HandlerFunc, routes ...string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	for _, route := range routes {
		r.GET(route, h)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAppParamAndLimit(t *testing.T) {
	h := func(c *gin.Context) {
		app, ok := appParam(c, true)
		if !ok {
			return
		}
		limit, ok := limitQuery(c)
		if !ok {
			return
		}
		writeJSON(c, http.StatusOK, gin.H{"app": app, "limit": limit})
	}

	rec := serveParams("/h/web?limit=3", h, "/h", "/h/:app")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"app":"web","limit":3}`, rec.Body.String())

	rec = serveParams("/h", h, "/h", "/h/:app")
	assert.JSONEq(t, `{"app":"","limit":0}`, rec.Body.String())

	rec = serveParams("/h/bad*name", h, "/h", "/h/:app")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid application name"}`, rec.Body.String())

	rec = serveParams("/h/web?limit=-1", h, "/h", "/h/:app")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "limit")
}
