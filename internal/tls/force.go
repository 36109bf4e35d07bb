package tls

import (
	"net"
	"net/http"
	"strconv"
	"strings"
)

// IsSecure reports whether r arrived over TLS. With trustForwarded an
// "X-Forwarded-Proto: https" header set by a TLS-terminating proxy counts too.
func IsSecure(r *http.Request, trustForwarded bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustForwarded && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// HTTPSURL returns the https equivalent of r with the same host, path and
// query. A non-default port is appended to the host.
func HTTPSURL(r *http.Request, port int) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	if port != 0 && port != 443 {
		host += ":" + strconv.Itoa(port)
	}
	return "https://" + host + r.URL.RequestURI()
}

// Redirect sends r to its https equivalent. GET and HEAD get 301; other
// methods get 308 so the method and body are kept.
func Redirect(w http.ResponseWriter, r *http.Request, port int) {
	code := http.StatusPermanentRedirect
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		code = http.StatusMovedPermanently
	}
	http.Redirect(w, r, HTTPSURL(r, port), code)
}

// ForceHTTPS redirects insecure requests to HTTPS before they reach next.
func ForceHTTPS(next http.Handler, port int, trustForwarded bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsSecure(r, trustForwarded) {
			next.ServeHTTP(w, r)
			return
		}
		Redirect(w, r, port)
	})
}
