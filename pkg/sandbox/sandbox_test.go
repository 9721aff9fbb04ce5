package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}
}

func workspace(t *testing.T) Workspace {
	t.Helper()
	dir := t.TempDir()
	ws := Workspace{SourceDir: filepath.Join(dir, "src"), WorkDir: filepath.Join(dir, "work")}
	os.MkdirAll(ws.SourceDir, 0o755)
	os.MkdirAll(ws.WorkDir, 0o755)
	return ws
}

func TestLocal_Run(t *testing.T) {
	requireShell(t)
	ws := workspace(t)
	os.WriteFile(filepath.Join(ws.SourceDir, "main.sh"), []byte("echo out; echo err >&2; echo $GREETING > result.txt"), 0o644)

	out, err := NewLocal(nil).Run(context.Background(), Job{
		Language:  "bash",
		Workspace: ws,
		Steps:     []Step{{Phase: PhaseRun, Argv: []string{"sh", "{src}/main.sh"}}},
		Env:       map[string]string{"GREETING": "hi from {work}"},
		Limits:    Limits{Timeout: 10 * time.Second},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 0 || out.TimedOut {
		t.Fatalf("ExitCode = %d, TimedOut = %v, stderr = %q", out.ExitCode, out.TimedOut, out.Stderr)
	}
	if out.Stdout != "out\n" {
		t.Errorf("Stdout = %q, want out", out.Stdout)
	}
	if out.Stderr != "err\n" {
		t.Errorf("Stderr = %q, want err", out.Stderr)
	}
	if out.Backend != "local" || out.Phase != PhaseRun {
		t.Errorf("Backend/Phase = %s/%s", out.Backend, out.Phase)
	}
	data, err := os.ReadFile(filepath.Join(ws.WorkDir, "result.txt"))
	if err != nil {
		t.Fatalf("step did not run in the work dir: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "hi from "+ws.WorkDir {
		t.Errorf("env expansion = %q", got)
	}
}

func TestLocal_StopsAtFailingCompileStep(t *testing.T) {
	requireShell(t)
	ws := workspace(t)

	out, err := NewLocal(nil).Run(context.Background(), Job{
		Workspace: ws,
		Steps: []Step{
			{Phase: PhaseCompile, Argv: []string{"sh", "-c", "echo 'syntax error' >&2; exit 3"}},
			{Phase: PhaseRun, Argv: []string{"sh", "-c", "touch ran"}},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Phase != PhaseCompile || out.ExitCode != 3 {
		t.Errorf("Phase = %s, ExitCode = %d, want compile/3", out.Phase, out.ExitCode)
	}
	if !strings.Contains(out.Stderr, "syntax error") {
		t.Errorf("Stderr = %q", out.Stderr)
	}
	if _, err := os.Stat(filepath.Join(ws.WorkDir, "ran")); err == nil {
		t.Error("run step executed after compile failure")
	}
}

func TestLocal_Timeout(t *testing.T) {
	requireShell(t)
	ws := workspace(t)

	start := time.Now()
	out, err := NewLocal(nil).Run(context.Background(), Job{
		Workspace: ws,
		Steps:     []Step{{Phase: PhaseRun, Argv: []string{"sh", "-c", "sleep 5 & sleep 5; wait"}}},
		Limits:    Limits{Timeout: 200 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !out.TimedOut || out.ExitCode != -1 {
		t.Errorf("TimedOut = %v, ExitCode = %d, want true/-1", out.TimedOut, out.ExitCode)
	}
	if !strings.Contains(out.Stderr, "timed out") {
		t.Errorf("Stderr = %q", out.Stderr)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout took %s; process group was not killed", elapsed)
	}
}

func TestLocal_MissingBinary(t *testing.T) {
	ws := workspace(t)
	out, err := NewLocal(nil).Run(context.Background(), Job{
		Workspace: ws,
		Steps:     []Step{{Phase: PhaseRun, Argv: []string{"polyrun-no-such-binary"}}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != -1 || out.Stderr == "" {
		t.Errorf("ExitCode = %d, Stderr = %q", out.ExitCode, out.Stderr)
	}
}

func TestLocal_NoSteps(t *testing.T) {
	if _, err := NewLocal(nil).Run(context.Background(), Job{Workspace: workspace(t)}); err == nil {
		t.Error("expected error for a job without steps")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if got := b.String(); got != "abcd\n[output truncated]" {
		t.Errorf("String() = %q", got)
	}
}

func TestLimitsWithDefaults(t *testing.T) {
	l := Limits{Timeout: 90 * time.Second}.WithDefaults()
	if l.CompileTimeout != 90*time.Second {
		t.Errorf("CompileTimeout = %s, want at least the run timeout", l.CompileTimeout)
	}
	if l.MemoryBytes != 512*1024*1024 || l.PidsLimit != 50 || l.CPUPeriod != 100000 {
		t.Errorf("defaults = %+v", l)
	}
	if got := l.StepTimeout(PhaseRun); got != 90*time.Second {
		t.Errorf("StepTimeout(run) = %s", got)
	}
}

func TestParseMemory(t *testing.T) {
	n, err := ParseMemory("256m")
	if err != nil || n != 256*1024*1024 {
		t.Errorf("ParseMemory(256m) = %d, %v", n, err)
	}
	if _, err := ParseMemory("lots"); err == nil {
		t.Error("expected error for invalid size")
	}
	if got := CPUQuotaFor(0.5, 100000); got != 50000 {
		t.Errorf("CPUQuotaFor = %d, want 50000", got)
	}
}

func TestExpandArgv(t *testing.T) {
	got := ExpandArgv([]string{"g++", "{src}/main.cpp", "-o", "{work}/prog"}, "/app", "/work")
	want := "g++ /app/main.cpp -o /work/prog"
	if strings.Join(got, " ") != want {
		t.Errorf("ExpandArgv = %v, want %s", got, want)
	}
	if ImageName("", "python") != "polyrun-python:latest" {
		t.Errorf("ImageName = %s", ImageName("", "python"))
	}
}

func TestRemote_Run(t *testing.T) {
	var got RemoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(RemoteResponse{
			Status:          "success",
			Phase:           PhaseRun,
			Stdout:          "42\n",
			ExecutionTimeMs: 12,
			FilesProduced: map[string]string{
				"__export__.json": base64.StdEncoding.EncodeToString([]byte(`{"x":1}`)),
				"../escape":       base64.StdEncoding.EncodeToString([]byte("no")),
			},
		})
	}))
	defer srv.Close()

	ws := workspace(t)
	os.WriteFile(filepath.Join(ws.SourceDir, "main.py"), []byte("print(42)"), 0o644)

	r := NewRemote(StaticURL(srv.URL), nil, nil)
	out, err := r.Run(context.Background(), Job{
		Language:  "python",
		Workspace: ws,
		Steps:     []Step{{Phase: PhaseRun, Argv: []string{"python3", "{src}/main.py"}}},
		Limits:    Limits{Timeout: 7 * time.Second},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Stdout != "42\n" || out.Duration != 12*time.Millisecond {
		t.Errorf("outcome = %+v", out)
	}
	if got.TimeoutSeconds != 7 || got.Language != "python" {
		t.Errorf("request = %+v", got)
	}
	if _, ok := got.Files["main.py"]; !ok {
		t.Errorf("request files = %v", got.Files)
	}
	if data, err := os.ReadFile(filepath.Join(ws.WorkDir, "__export__.json")); err != nil || string(data) != `{"x":1}` {
		t.Errorf("produced file = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(ws.WorkDir, "escape")); err != nil {
		t.Errorf("path traversal should be reduced to the base name: %v", err)
	}
}

func TestRemote_AtCapacity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ws := workspace(t)
	os.WriteFile(filepath.Join(ws.SourceDir, "main.sh"), []byte("echo"), 0o644)
	_, err := NewRemote(StaticURL(srv.URL), nil, nil).Run(context.Background(), Job{
		Workspace: ws,
		Steps:     []Step{{Phase: PhaseRun, Argv: []string{"bash", "{src}/main.sh"}}},
	})
	if err == nil || !strings.Contains(err.Error(), "capacity") {
		t.Errorf("err = %v, want capacity error", err)
	}
}

func TestRemote_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy", Toolchains: []string{"python3"}})
	}))
	defer srv.Close()

	if err := NewRemote(StaticURL(srv.URL), nil, nil).Available(context.Background(), "python", ""); err != nil {
		t.Errorf("Available: %v", err)
	}
	srv.Close()
	err := NewRemote(StaticURL(srv.URL), nil, nil).Available(context.Background(), "python", "")
	if !errors.Is(err, ErrIsolationUnavailable) {
		t.Errorf("err = %v, want ErrIsolationUnavailable", err)
	}
}

type stubExecutor struct {
	name     string
	availErr error
	ran      int
}

func (s *stubExecutor) Name() string { return s.name }

func (s *stubExecutor) Available(context.Context, string, string) error { return s.availErr }

func (s *stubExecutor) Run(context.Context, Job) (*Outcome, error) {
	s.ran++
	return &Outcome{Phase: PhaseRun, Backend: s.name}, nil
}

func TestSelector(t *testing.T) {
	tests := []struct {
		name         string
		isolated     *stubExecutor
		wantBackend  string
		wantFallback bool
	}{
		{"isolated available", &stubExecutor{name: "docker"}, "docker", false},
		{"isolated unavailable", &stubExecutor{name: "docker", availErr: ErrIsolationUnavailable}, "local", true},
		{"no isolated backend", nil, "local", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := &stubExecutor{name: "local"}
			var iso Executor
			if tt.isolated != nil {
				iso = tt.isolated
			}
			out, err := NewSelector(iso, local, nil).Run(context.Background(), Job{Language: "python"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.Backend != tt.wantBackend {
				t.Errorf("Backend = %s, want %s", out.Backend, tt.wantBackend)
			}
			if (out.Fallback != "") != tt.wantFallback {
				t.Errorf("Fallback = %q, want fallback %v", out.Fallback, tt.wantFallback)
			}
		})
	}
}
