package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/webvisor/internal/metrics"
)

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// mirrorTask is one copy of a matched request bound for one mirror.
// It owns its data so it outlives the inbound request.
type mirrorTask struct {
	host    string
	method  string
	url     *url.URL
	header  http.Header
	reqHost string
	body    []byte
	id      string
}

// mirrorTasks snapshots r once per mirror of rt.
func mirrorTasks(rt *route, r *http.Request, body []byte, id string) []mirrorTask {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	removeHopHeaders(header)
	setForwarded(header, r)

	tasks := make([]mirrorTask, 0, len(rt.mirrors))
	for _, m := range rt.mirrors {
		t := mirrorTask{
			host:   rt.host,
			method: r.Method,
			url:    joinURL(m, r.URL),
			header: header.Clone(),
			body:   body,
			id:     id,
		}
		if !rt.rule.ChangeOrigin {
			t.reqHost = r.Host
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// runMirror sends the task and discards the response. Errors are logged only.
func (rt *Router) runMirror(t mirrorTask) {
	defer rt.inflight.Done()
	defer func() { <-rt.mirrorSlots }()
	ctx, cancel := context.WithTimeout(context.Background(), rt.opts.MirrorTimeout)
	defer cancel()

	start := time.Now()
	err := rt.sendMirror(ctx, t)
	metrics.IncMirror(t.host, err == nil)
	if err != nil {
		rt.logger.Warn("mirror request failed",
			"host", t.host, "mirror", t.url.Host, "request_id", t.id,
			"elapsed", time.Since(start), "error", err)
		return
	}
	rt.logger.Debug("mirror request done", "host", t.host, "mirror", t.url.Host, "request_id", t.id, "elapsed", time.Since(start))
}

func (rt *Router) sendMirror(ctx context.Context, t mirrorTask) error {
	var body io.Reader
	if t.body != nil {
		body = bytes.NewReader(t.body)
	}
	req, err := http.NewRequestWithContext(ctx, t.method, t.url.String(), body)
	if err != nil {
		return err
	}
	req.Header = t.header
	if t.reqHost != "" {
		req.Host = t.reqHost
	}
	resp, err := rt.mirrorClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("mirror responded %s", resp.Status)
	}
	return nil
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, sf := range strings.Split(f, ",") {
			if sf = textproto.TrimString(sf); sf != "" {
				h.Del(sf)
			}
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
}

// setForwarded mirrors what httputil.ProxyRequest.SetXForwarded does for the primary.
func setForwarded(h http.Header, r *http.Request) {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		h.Set("X-Forwarded-For", ip)
	} else {
		h.Del("X-Forwarded-For")
	}
	h.Set("X-Forwarded-Host", r.Host)
	if r.TLS == nil {
		h.Set("X-Forwarded-Proto", "http")
	} else {
		h.Set("X-Forwarded-Proto", "https")
	}
}

// joinURL resolves the inbound path and query against a backend base URL
// the same way httputil.ProxyRequest.SetURL does.
func joinURL(base, in *url.URL) *url.URL {
	out := *base
	out.Path, out.RawPath = joinURLPath(base, in)
	switch {
	case base.RawQuery == "" || in.RawQuery == "":
		out.RawQuery = base.RawQuery + in.RawQuery
	default:
		out.RawQuery = base.RawQuery + "&" + in.RawQuery
	}
	return &out
}

func joinURLPath(a, b *url.URL) (path, rawpath string) {
	if a.RawPath == "" && b.RawPath == "" {
		return singleJoiningSlash(a.Path, b.Path), ""
	}
	apath := a.EscapedPath()
	bpath := b.EscapedPath()

	aslash := strings.HasSuffix(apath, "/")
	bslash := strings.HasPrefix(bpath, "/")

	switch {
	case aslash && bslash:
		return a.Path + b.Path[1:], apath + bpath[1:]
	case !aslash && !bslash:
		return a.Path + "/" + b.Path, apath + "/" + bpath
	}
	return a.Path + b.Path, apath + bpath
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
