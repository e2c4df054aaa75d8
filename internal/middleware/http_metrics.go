package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are served paths that carry no dynamic segment.
var staticRoutes = map[string]bool{
	"/feed":          true,
	"/feed/trending": true,
	"/feed/nearby":   true,
	"/health":        true,
	"/ready":         true,
	"/metrics":       true,
}

// unmatchedRoute labels paths that do not belong to any route, so scanners
// probing random URLs cannot blow up label cardinality.
const unmatchedRoute = "other"

// normalizePath maps a request path to its route pattern,
// e.g. /videos/3f2a.../views becomes /videos/{id}/views.
func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")
	if len(parts) == 4 && parts[1] == "videos" && parts[2] != "" && parts[3] == "views" {
		return "/videos/{id}/views"
	}
	return unmatchedRoute
}

// metricsResponseWriter captures the status code and body size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	mrw.wroteHeader = true
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer to UpdateResponseContext and
// http.ResponseController.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// HTTPMetrics records latency, count and response size per route.
// /health, /ready and /metrics are not recorded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := normalizePath(r.URL.Path)
			if route == "/health" || route == "/ready" || route == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				route,
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				mrw.size,
			)
		})
	}
}
