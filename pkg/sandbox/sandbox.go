// Package sandbox runs prepared artifacts either as local subprocesses or
// inside isolated environments (Docker containers or remote sandbox pods).
//
// A Job is a list of steps (an optional compile step followed by the run
// step) executed against a Workspace. Argument vectors and environment
// values may reference the workspace through the {src} and {work}
// placeholders, which each backend expands to the paths it exposes.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
)

// ErrIsolationUnavailable reports that the isolated backend cannot run a
// job. It is never a run failure: the selector falls back to the local
// backend and reports the reason.
var ErrIsolationUnavailable = errors.New("isolation unavailable")

// Phase identifies a step within a job.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRun     Phase = "run"
)

// Placeholders expanded in step argv and environment values.
const (
	SourcePlaceholder = "{src}"
	WorkPlaceholder   = "{work}"
)

// Step is one command of a job.
type Step struct {
	Phase Phase    `json:"phase"`
	Argv  []string `json:"argv"`
}

// Workspace holds the host directories of a job. SourceDir contains the
// prepared sources and is mounted read-only where the backend supports
// it. WorkDir is the writable working directory; compiled binaries and the
// interchange file live there.
type Workspace struct {
	SourceDir string
	WorkDir   string
}

// Limits bounds a job. Zero values mean "use the default".
type Limits struct {
	// Timeout bounds each run step.
	Timeout time.Duration

	// CompileTimeout bounds each compile step. Zero uses Timeout.
	CompileTimeout time.Duration

	// MemoryBytes caps container memory (and swap).
	MemoryBytes int64

	// CPUPeriod and CPUQuota are the CFS scheduler settings in
	// microseconds.
	CPUPeriod int64
	CPUQuota  int64

	// PidsLimit caps the number of processes in the container.
	PidsLimit int64

	// TmpfsSize is the size of the /tmp tmpfs, in docker notation.
	TmpfsSize string

	// MaxOutputBytes truncates stdout and stderr of each step.
	MaxOutputBytes int
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        30 * time.Second,
		CompileTimeout: 60 * time.Second,
		MemoryBytes:    512 * units.MiB,
		CPUPeriod:      100000,
		CPUQuota:       50000,
		PidsLimit:      50,
		TmpfsSize:      "100m",
		MaxOutputBytes: 1 * units.MiB,
	}
}

// WithDefaults fills zero fields of l from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.Timeout <= 0 {
		l.Timeout = d.Timeout
	}
	if l.CompileTimeout <= 0 {
		l.CompileTimeout = d.CompileTimeout
		if l.Timeout > l.CompileTimeout {
			l.CompileTimeout = l.Timeout
		}
	}
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = d.MemoryBytes
	}
	if l.CPUPeriod <= 0 {
		l.CPUPeriod = d.CPUPeriod
	}
	if l.CPUQuota <= 0 {
		l.CPUQuota = d.CPUQuota
	}
	if l.PidsLimit <= 0 {
		l.PidsLimit = d.PidsLimit
	}
	if l.TmpfsSize == "" {
		l.TmpfsSize = d.TmpfsSize
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = d.MaxOutputBytes
	}
	return l
}

// StepTimeout returns the budget of a step in the given phase.
func (l Limits) StepTimeout(p Phase) time.Duration {
	if p == PhaseCompile && l.CompileTimeout > 0 {
		return l.CompileTimeout
	}
	return l.Timeout
}

// ParseMemory converts a docker-style size ("512m", "1g") to bytes.
func ParseMemory(s string) (int64, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", s, err)
	}
	return n, nil
}

// CPUQuotaFor converts a CPU count ("0.5", "2") into a CFS quota for the
// given period.
func CPUQuotaFor(cpus float64, period int64) int64 {
	if cpus <= 0 {
		return 0
	}
	return int64(cpus * float64(period))
}

// Job is one artifact execution.
type Job struct {
	Language  string
	Image     string
	Workspace Workspace
	Steps     []Step
	Env       map[string]string
	Limits    Limits
}

// Outcome is the result of the last step a job executed. Steps stop at the
// first failure, so a failed compile step is reported with PhaseCompile.
type Outcome struct {
	Phase    Phase
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Backend  string

	// Fallback is set when isolation was requested but the job ran
	// locally. It carries the reason.
	Fallback string
}

// Failed reports whether the step ended unsuccessfully.
func (o *Outcome) Failed() bool {
	return o.TimedOut || o.ExitCode != 0
}

// Executor runs jobs on one backend.
type Executor interface {
	// Name identifies the backend ("local", "docker", "remote").
	Name() string

	// Available returns nil when the backend can run a job for language
	// with the given image, or an error wrapping ErrIsolationUnavailable.
	Available(ctx context.Context, language, image string) error

	// Run executes the steps of job in order and stops at the first
	// failing step. Timeouts are reported in the Outcome; the error is
	// reserved for backend failures.
	Run(ctx context.Context, job Job) (*Outcome, error)
}

// Expand replaces the workspace placeholders in s.
func Expand(s, src, work string) string {
	s = strings.ReplaceAll(s, SourcePlaceholder, src)
	return strings.ReplaceAll(s, WorkPlaceholder, work)
}

// ExpandArgv replaces the workspace placeholders in every argument.
func ExpandArgv(argv []string, src, work string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = Expand(a, src, work)
	}
	return out
}

// ImageName returns the container image for a language.
func ImageName(prefix, language string) string {
	if prefix == "" {
		prefix = "polyrun-"
	}
	return prefix + language + ":latest"
}

// cappedBuffer keeps at most max bytes and records truncation.
type cappedBuffer struct {
	buf       strings.Builder
	max       int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.max <= 0 {
		return c.buf.Write(p)
	}
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	if c.truncated {
		return c.buf.String() + "\n[output truncated]"
	}
	return c.buf.String()
}

func timeoutMessage(p Phase, d time.Duration) string {
	return fmt.Sprintf("%s step timed out after %s", p, d)
}
