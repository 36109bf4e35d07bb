package server

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type errorResp struct {
	Error string `json:"error"`
}

// basePath normalizes a mount prefix to "" or "/x" without a trailing slash.
func basePath(bp string) string {
	bp = strings.Trim(strings.TrimSpace(bp), "/")
	if bp == "" {
		return ""
	}
	return "/" + bp
}

// isSafeName accepts application names as they may appear in a path
// segment: letters, digits, '.', '_' and '-', never "..".
func isSafeName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '-')
	}) < 0
}

// appParam returns the :app segment. optional allows it to be absent. On
// a bad name the 400 is already written.
func appParam(c *gin.Context, optional bool) (string, bool) {
	app := c.Param("app")
	if app == "" && optional {
		return "", true
	}
	if !isSafeName(app) {
		writeError(c, 400, "invalid application name")
		return "", false
	}
	return app, true
}

// limitQuery parses ?limit; absent means 0, the store default.
func limitQuery(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeError(c, 400, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeError(c *gin.Context, code int, msg string) {
	writeJSON(c, code, errorResp{Error: msg})
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
