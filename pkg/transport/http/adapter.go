package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/storage"
	"github.com/rhuss/polyrun/pkg/transport"
)

// Adapter serves the PolyRun API over HTTP and WebSocket.
type Adapter struct {
	executor transport.RunExecutor
	catalog  transport.Catalog
	store    transport.ProjectStore // nil disables the project endpoints
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	config   Config
	logger   *slog.Logger
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds

	// AllowedOrigins lists the Origin values accepted for WebSocket
	// upgrades. Empty accepts same-host requests only; "*" accepts all.
	AllowedOrigins []string

	Validation api.ValidationConfig
	Logger     *slog.Logger
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxBodySize:     2 << 20, // 2 MB
		ShutdownTimeout: 30,
		Validation:      api.DefaultValidationConfig(),
	}
}

// NewAdapter creates an HTTP adapter. The catalog and store are optional;
// without a store the project endpoints answer 501. Middleware is applied
// to the executor in the given order.
func NewAdapter(executor transport.RunExecutor, catalog transport.Catalog, store transport.ProjectStore, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		executor = transport.Chain(middlewares...)(executor)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		executor: executor,
		catalog:  catalog,
		store:    store,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
		logger:   cfg.Logger,
	}
	a.upgrader = websocket.Upgrader{CheckOrigin: a.checkOrigin}

	a.mux.HandleFunc("POST /api/execute", a.handleExecute)
	a.mux.HandleFunc("GET /api/ws/execute", a.handleWebSocket)
	a.mux.HandleFunc("GET /api/runs", a.handleListRuns)
	a.mux.HandleFunc("DELETE /api/runs/{id}", a.handleCancelRun)
	a.mux.HandleFunc("GET /api/languages", a.handleLanguages)
	a.mux.HandleFunc("GET /api/status", a.handleStatus)
	a.mux.HandleFunc("GET /healthz", a.handleHealthz)
	a.mux.HandleFunc("GET /readyz", a.handleReadyz)

	a.mux.HandleFunc("POST /api/projects", a.handleCreateProject)
	a.mux.HandleFunc("GET /api/projects", a.handleListProjects)
	a.mux.HandleFunc("GET /api/projects/{id}", a.handleGetProject)
	a.mux.HandleFunc("PUT /api/projects/{id}", a.handleUpdateProject)
	a.mux.HandleFunc("DELETE /api/projects/{id}", a.handleDeleteProject)
	a.mux.HandleFunc("GET /api/projects/{id}/versions", a.handleListVersions)
	a.mux.HandleFunc("POST /api/projects/{id}/run", a.handleRunProject)
	a.mux.HandleFunc("POST /api/projects/{id}/share", a.handleShareProject)
	a.mux.HandleFunc("GET /api/shared/{token}", a.handleGetShared)
	a.mux.HandleFunc("GET /api/tags", a.handlePopularTags)
	a.mux.HandleFunc("GET /api/stats", a.handleStats)

	return a
}

// Handle registers an additional handler, for example /metrics.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the http.Handler for this adapter, including HTTP-level
// request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware propagates the X-Request-ID header into the
// context and echoes the context's request ID on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			r = r.WithContext(transport.ContextWithRequestID(r.Context(), id))
		}
		next.ServeHTTP(&requestIDResponseWriter{ResponseWriter: w, r: r}, r)
	})
}

// requestIDResponseWriter injects the X-Request-ID header before the
// first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *requestIDResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// decodeJSON reads a size-limited JSON body into v. An empty body is
// accepted when allowEmpty is set.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleExecute handles POST /api/execute. The run streams as SSE when
// the query has stream=true or the client accepts text/event-stream.
func (a *Adapter) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req api.ExecuteRequest
	if !a.decodeJSON(w, r, &req, false) {
		return
	}
	debug.Log("transport", "execute request", "bytes", len(req.Code), "language", req.Language, "stream", wantsStream(r))
	if wantsStream(r) {
		a.streamRun(w, r, &req)
		return
	}
	a.runJSON(w, r, &req)
}

func wantsStream(r *http.Request) bool {
	return r.URL.Query().Get("stream") == "true" ||
		strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// runJSON executes req and writes the summary as one JSON document.
func (a *Adapter) runJSON(w http.ResponseWriter, r *http.Request, req *api.ExecuteRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var runID string
	obs := &registeringObserver{onStart: func(id string) {
		runID = id
		a.inflight.Register(id, cancel)
	}}
	sum, err := a.executor.Execute(ctx, req, obs)
	if runID != "" {
		a.inflight.Remove(runID)
	}
	if err != nil {
		transport.WriteAPIError(w, toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, api.FromSummary(sum))
}

// streamRun executes req and streams its events as SSE.
func (a *Adapter) streamRun(w http.ResponseWriter, r *http.Request, req *api.ExecuteRequest) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sw := newSSEWriter(w)
	var runID string
	obs := transport.NewStreamObserver(ctx, sw, func(id string) {
		runID = id
		a.inflight.Register(id, cancel)
	})

	_, err := a.executor.Execute(ctx, req, obs)
	if runID != "" {
		a.inflight.Remove(runID)
	}
	if err != nil {
		if !sw.started() {
			transport.WriteAPIError(w, toAPIError(err))
			return
		}
		obs.Fail(toAPIError(err))
	}
}

// registeringObserver reports the run ID of a non-streaming run.
type registeringObserver struct {
	engine.NopObserver
	onStart func(runID string)
}

func (o *registeringObserver) ParseCompleted(runID string, _ int) {
	o.onStart(runID)
}

// handleListRuns handles GET /api/runs.
func (a *Adapter) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   a.inflight.Active(),
	})
}

// handleCancelRun handles DELETE /api/runs/{id}.
func (a *Adapter) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.inflight.Cancel(id) {
		transport.WriteAPIError(w, api.NewNotFoundError("run "+id+" is not active"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleLanguages handles GET /api/languages.
func (a *Adapter) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		writeJSON(w, http.StatusOK, []api.LanguageInfo{})
		return
	}
	writeJSON(w, http.StatusOK, a.catalog.Languages(r.Context()))
}

// handleStatus handles GET /api/status.
func (a *Adapter) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		writeJSON(w, http.StatusOK, api.SystemStatus{Status: "ok"})
		return
	}
	writeJSON(w, http.StatusOK, a.catalog.Status(r.Context()))
}

// handleHealthz handles GET /healthz.
func (a *Adapter) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// handleReadyz handles GET /readyz. The server is ready when the project
// store, if any, answers its health check.
func (a *Adapter) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store != nil {
		if err := a.store.HealthCheck(r.Context()); err != nil {
			a.logger.Warn("readiness check failed", "error", err)
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// toAPIError converts executor and store errors to API errors.
func toAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, storage.ErrNotFound):
		return api.NewNotFoundError(err.Error())
	case errors.Is(err, storage.ErrExpired):
		return api.NewExpiredError(err.Error())
	case errors.Is(err, storage.ErrConflict):
		return api.NewConflictError("id", err.Error())
	default:
		return api.NewServerError(err.Error())
	}
}
