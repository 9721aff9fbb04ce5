package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// RemoteRequest is the request body for POST /execute on the sandbox
// server. Files are base64 encoded and written into the server's source
// directory.
type RemoteRequest struct {
	Language       string            `json:"language"`
	Files          map[string]string `json:"files"`
	Steps          []Step            `json:"steps"`
	Env            map[string]string `json:"env,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	CompileSeconds int               `json:"compile_timeout_seconds,omitempty"`
	MaxOutputBytes int               `json:"max_output_bytes,omitempty"`
}

// RemoteResponse is the response from POST /execute on the sandbox
// server. FilesProduced holds the regular files left in the work
// directory, base64 encoded.
type RemoteResponse struct {
	Status          string            `json:"status"`
	Phase           Phase             `json:"phase"`
	Stdout          string            `json:"stdout"`
	Stderr          string            `json:"stderr"`
	ExitCode        int               `json:"exit_code"`
	TimedOut        bool              `json:"timed_out"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	FilesProduced   map[string]string `json:"files_produced,omitempty"`
}

// HealthResponse is the response from GET /health on the sandbox server.
type HealthResponse struct {
	Status      string   `json:"status"`
	Toolchains  []string `json:"toolchains"`
	Capacity    int      `json:"capacity"`
	CurrentLoad int      `json:"current_load"`
	UptimeSecs  int64    `json:"uptime_seconds"`
}

// Acquirer hands out sandbox server URLs. Implementations exist for a
// static URL and for Kubernetes SandboxClaims.
type Acquirer interface {
	// Acquire returns a sandbox URL to use for execution. The release
	// function must be called after execution to clean up.
	Acquire(ctx context.Context) (sandboxURL string, release func(), err error)
}

// StaticURL is an Acquirer that always returns the same server.
type StaticURL string

func (s StaticURL) Acquire(context.Context) (string, func(), error) {
	return string(s), func() {}, nil
}

// Client calls the sandbox server's REST API.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a sandbox HTTP client. The overall HTTP timeout is a
// safety net; execution timeouts are enforced by the server.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Execute sends an execution request to the sandbox server.
func (c *Client) Execute(ctx context.Context, sandboxURL string, req *RemoteRequest) (*RemoteResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sandboxURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("sandbox at capacity (HTTP 429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var out RemoteResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context, sandboxURL string) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sandboxURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox health returned HTTP %d", resp.StatusCode)
	}
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &h, nil
}

var _ Executor = (*Remote)(nil)

// Remote ships a job's sources to a sandbox server and copies the files
// it produced back into the local work directory.
type Remote struct {
	acquirer Acquirer
	client   *Client
	logger   *slog.Logger
}

// NewRemote creates a remote executor.
func NewRemote(acquirer Acquirer, client *Client, logger *slog.Logger) *Remote {
	if client == nil {
		client = NewClient(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{acquirer: acquirer, client: client, logger: logger}
}

func (r *Remote) Name() string { return "remote" }

// Available probes static servers with a health check. Claim-based
// acquirers are assumed available; acquisition failures surface from Run.
func (r *Remote) Available(ctx context.Context, language, _ string) error {
	if r.acquirer == nil {
		return fmt.Errorf("%w: no sandbox acquirer configured", ErrIsolationUnavailable)
	}
	static, ok := r.acquirer.(StaticURL)
	if !ok {
		return nil
	}
	if _, err := r.client.Health(ctx, string(static)); err != nil {
		return fmt.Errorf("%w: %v", ErrIsolationUnavailable, err)
	}
	return nil
}

func (r *Remote) Run(ctx context.Context, job Job) (*Outcome, error) {
	limits := job.Limits.WithDefaults()

	files, err := readFiles(job.Workspace.SourceDir)
	if err != nil {
		return nil, err
	}

	sandboxURL, release, err := r.acquirer.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring sandbox: %w", err)
	}
	defer release()

	start := time.Now()
	resp, err := r.client.Execute(ctx, sandboxURL, &RemoteRequest{
		Language:       job.Language,
		Files:          files,
		Steps:          job.Steps,
		Env:            job.Env,
		TimeoutSeconds: int(limits.Timeout.Seconds()),
		CompileSeconds: int(limits.CompileTimeout.Seconds()),
		MaxOutputBytes: limits.MaxOutputBytes,
	})
	if err != nil {
		return nil, err
	}

	for name, encoded := range resp.FilesProduced {
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			r.logger.Warn("skipping undecodable sandbox file", "file", name, "error", err)
			continue
		}
		path := filepath.Join(job.Workspace.WorkDir, filepath.Base(name))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("writing sandbox file %q: %w", name, err)
		}
	}

	phase := resp.Phase
	if phase == "" {
		phase = PhaseRun
	}
	out := &Outcome{
		Phase:    phase,
		Stdout:   resp.Stdout,
		Stderr:   resp.Stderr,
		ExitCode: resp.ExitCode,
		TimedOut: resp.TimedOut,
		Duration: time.Duration(resp.ExecutionTimeMs) * time.Millisecond,
		Backend:  r.Name(),
	}
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}
	return out, nil
}

// readFiles base64-encodes the regular files directly inside dir.
func readFiles(dir string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source dir: %w", err)
	}
	files := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		files[e.Name()] = base64.StdEncoding.EncodeToString(data)
	}
	if len(files) == 0 {
		return nil, errors.New("source dir is empty")
	}
	return files, nil
}
