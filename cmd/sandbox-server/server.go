package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/runner"
	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/value"
)

// sandboxServer executes remote jobs on the local executor.
type sandboxServer struct {
	executor      sandbox.Executor
	maxConcurrent int32
	maxBodyBytes  int64
	currentLoad   atomic.Int32
	startTime     time.Time
	logger        *slog.Logger
}

func newSandboxServer(maxConcurrent int, maxBodyBytes int64, logger *slog.Logger) *sandboxServer {
	return &sandboxServer{
		executor:      sandbox.NewLocal(logger),
		maxConcurrent: int32(maxConcurrent),
		maxBodyBytes:  maxBodyBytes,
		startTime:     time.Now(),
		logger:        logger,
	}
}

func (s *sandboxServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *sandboxServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	current := s.currentLoad.Add(1)
	defer s.currentLoad.Add(-1)

	if current > s.maxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.maxConcurrent))
		return
	}

	var req sandbox.RemoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files are required")
		return
	}
	if len(req.Steps) == 0 {
		writeError(w, http.StatusBadRequest, "steps are required")
		return
	}

	tmpDir, err := os.MkdirTemp("", "polyrun-sandbox-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create temp dir: "+err.Error())
		return
	}
	defer os.RemoveAll(tmpDir)

	ws := sandbox.Workspace{
		SourceDir: filepath.Join(tmpDir, "src"),
		WorkDir:   filepath.Join(tmpDir, "work"),
	}
	for _, dir := range []string{ws.SourceDir, ws.WorkDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create workspace: "+err.Error())
			return
		}
	}

	for name, b64Content := range req.Files {
		content, err := base64.StdEncoding.DecodeString(b64Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to decode file %q: %v", name, err))
			return
		}
		// Base prevents path traversal.
		path := filepath.Join(ws.SourceDir, filepath.Base(name))
		if err := os.WriteFile(path, content, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to write file %q: %v", name, err))
			return
		}
	}

	s.logger.Info("execute request",
		"language", req.Language,
		"files", len(req.Files),
		"steps", len(req.Steps),
		"timeout", req.TimeoutSeconds,
	)

	out, err := s.executor.Run(r.Context(), sandbox.Job{
		Language:  req.Language,
		Workspace: ws,
		Steps:     req.Steps,
		Env:       req.Env,
		Limits: sandbox.Limits{
			Timeout:        time.Duration(req.TimeoutSeconds) * time.Second,
			CompileTimeout: time.Duration(req.CompileSeconds) * time.Second,
			MaxOutputBytes: req.MaxOutputBytes,
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status := "success"
	if out.Failed() {
		status = "error"
	}
	files := collectExportFile(ws.WorkDir)

	s.logger.Info("execute complete",
		"language", req.Language,
		"status", status,
		"phase", out.Phase,
		"exit_code", out.ExitCode,
		"duration_ms", out.Duration.Milliseconds(),
		"files_produced", len(files),
	)
	debug.Log("sandbox", "execute output", "stdout", debug.Truncate(out.Stdout, 200), "stderr", debug.Truncate(out.Stderr, 200))

	writeJSON(w, http.StatusOK, sandbox.RemoteResponse{
		Status:          status,
		Phase:           out.Phase,
		Stdout:          out.Stdout,
		Stderr:          out.Stderr,
		ExitCode:        out.ExitCode,
		TimedOut:        out.TimedOut,
		ExecutionTimeMs: out.Duration.Milliseconds(),
		FilesProduced:   files,
	})
}

// collectExportFile returns the interchange file a block left behind, if
// any. Compiled binaries and scratch files stay in the pod.
func collectExportFile(workDir string) map[string]string {
	content, err := os.ReadFile(filepath.Join(workDir, value.ExportFile))
	if err != nil {
		return nil
	}
	return map[string]string{value.ExportFile: base64.StdEncoding.EncodeToString(content)}
}

func (s *sandboxServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	toolchains := s.toolchains(r.Context())
	status := "healthy"
	if len(toolchains) == 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, sandbox.HealthResponse{
		Status:      status,
		Toolchains:  toolchains,
		Capacity:    int(s.maxConcurrent),
		CurrentLoad: int(s.currentLoad.Load()),
		UptimeSecs:  int64(time.Since(s.startTime).Seconds()),
	})
}

// toolchains lists the built-in languages whose toolchain is on PATH.
func (s *sandboxServer) toolchains(ctx context.Context) []string {
	reg := runner.Default(runner.Env{Executor: s.executor, Logger: s.logger})
	var out []string
	for _, info := range reg.Info(ctx) {
		if info.Available {
			out = append(out, info.Language)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
