package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

var _ Executor = (*Local)(nil)

// Local runs steps as subprocesses of the current process. It enforces
// the wall-clock timeout only; there is no resource ceiling.
type Local struct {
	logger *slog.Logger
}

// NewLocal creates a local executor.
func NewLocal(logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{logger: logger}
}

func (l *Local) Name() string { return "local" }

// Available always succeeds. Missing toolchains surface as step failures.
func (l *Local) Available(context.Context, string, string) error { return nil }

func (l *Local) Run(ctx context.Context, job Job) (*Outcome, error) {
	limits := job.Limits.WithDefaults()
	src, work := job.Workspace.SourceDir, job.Workspace.WorkDir

	env := os.Environ()
	for k, v := range job.Env {
		env = append(env, k+"="+Expand(v, src, work))
	}

	var out *Outcome
	for _, step := range job.Steps {
		if len(step.Argv) == 0 {
			return nil, fmt.Errorf("empty %s step", step.Phase)
		}
		out = l.runStep(ctx, step.Phase, ExpandArgv(step.Argv, src, work), work, env, limits)
		if out.Failed() {
			break
		}
	}
	if out == nil {
		return nil, errors.New("job has no steps")
	}
	return out, nil
}

func (l *Local) runStep(ctx context.Context, phase Phase, argv []string, dir string, env []string, limits Limits) *Outcome {
	budget := limits.StepTimeout(phase)
	stepCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	cmd := exec.CommandContext(stepCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	setProcessGroup(cmd)
	cmd.WaitDelay = 2 * time.Second

	stdout := &cappedBuffer{max: limits.MaxOutputBytes}
	stderr := &cappedBuffer{max: limits.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	out := &Outcome{
		Phase:    phase,
		Duration: time.Since(start),
		Backend:  l.Name(),
	}

	switch {
	case err == nil:
	case errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		// Deadline takes precedence over the kill-induced exit status.
		out.TimedOut = true
		out.ExitCode = -1
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.ExitCode = -1
			stderr.Write([]byte(err.Error()))
		}
	}

	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if out.TimedOut && out.Stderr == "" {
		out.Stderr = timeoutMessage(phase, budget)
	}

	l.logger.Debug("local step finished",
		"phase", phase,
		"command", argv[0],
		"exit_code", out.ExitCode,
		"timed_out", out.TimedOut,
		"duration_ms", out.Duration.Milliseconds(),
	)
	return out
}
