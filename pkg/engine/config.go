package engine

import (
	"time"

	"github.com/rhuss/polyrun/pkg/sandbox"
)

// RunConfig is the per-run context. It is built once per invocation from
// configuration defaults and caller overrides and is never mutated by the
// engine.
type RunConfig struct {
	// Languages restricts execution to these languages (names or
	// aliases). Empty allows every registered language.
	Languages []string

	// Timeout is the per-block run budget. Zero uses the sandbox default.
	Timeout time.Duration

	// Isolation runs blocks on the isolated backend when it is available.
	// When it is not, blocks run locally and a fallback is reported.
	Isolation bool

	// ContinueOnFailure runs the remaining blocks after a failed block.
	ContinueOnFailure bool

	// Consolidate merges same-language blocks before execution.
	Consolidate bool

	// Limits are the resource limits for isolated execution. Timeout,
	// when set, overrides Limits.Timeout.
	Limits sandbox.Limits

	// Observer, when set, receives this run's events in addition to the
	// engine's observer.
	Observer Observer
}

// DefaultRunConfig returns the defaults: consolidation on, isolation off,
// stop at the first failure.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Consolidate: true,
		Limits:      sandbox.DefaultLimits(),
	}
}

// limits returns the effective sandbox limits.
func (c RunConfig) limits() sandbox.Limits {
	l := c.Limits
	if c.Timeout > 0 {
		l.Timeout = c.Timeout
	}
	l = l.WithDefaults()
	if l.CompileTimeout < l.Timeout {
		l.CompileTimeout = l.Timeout
	}
	return l
}
