package observability

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsMiddleware wraps an HTTP handler to record request metrics.
//
// It captures:
//   - polyrun_requests_total (counter): incremented per request with method, route, and status class labels
//   - polyrun_request_duration_seconds (histogram): request duration with method and route labels
//   - polyrun_streaming_connections_active (gauge): incremented while an SSE or WebSocket stream is open
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if isStreaming(r) {
			StreamingConnections.Inc()
			defer StreamingConnections.Dec()
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := Route(r.URL.Path)
		statusStr := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(r.Method, route, statusStr).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func isStreaming(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream") ||
		r.URL.Query().Get("stream") == "true" ||
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// routes maps path prefixes to bounded route labels, most specific first.
var routes = []struct{ prefix, label string }{
	{"/api/ws/execute", "ws_execute"},
	{"/api/execute", "execute"},
	{"/api/runs", "runs"},
	{"/api/languages", "languages"},
	{"/api/status", "status"},
	{"/api/projects", "projects"},
	{"/api/shared/", "shared"},
	{"/api/tags", "tags"},
	{"/api/stats", "stats"},
	{"/healthz", "health"},
	{"/readyz", "health"},
	{"/metrics", "metrics"},
	{"/mcp", "mcp"},
}

// Route returns the metrics label for a request path. IDs and tokens are
// never used as labels.
func Route(path string) string {
	for _, r := range routes {
		if strings.HasPrefix(path, r.prefix) {
			if r.label == "projects" && strings.HasSuffix(path, "/run") {
				return "project_run"
			}
			return r.label
		}
	}
	return "other"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
// This is essential for SSE streaming support.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack hands the connection to the WebSocket upgrader. The recorded
// status becomes 101.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, rw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil && !w.written {
		w.status = http.StatusSwitchingProtocols
		w.written = true
	}
	return conn, rw, err
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
