// Package runner defines the per-language execution contract and the
// registry that resolves language names to runners.
//
// A runner turns a block's code plus its imported values into an artifact
// on disk, executes the artifact through a sandbox.Executor, and collects
// the values the block exported. Built-in runners cover Python,
// JavaScript, Bash, C++ and Go; further languages are added with YAML
// manifests (see LoadManifests).
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/value"
)

// Status is the outcome of executing one block.
type Status string

const (
	StatusCompleted     Status = "completed"
	StatusCompileFailed Status = "compile_failed"
	StatusRuntimeFailed Status = "runtime_failed"
	StatusTimedOut      Status = "timed_out"
	StatusRejected      Status = "rejected"
	StatusUnsupported   Status = "unsupported"
)

// Runner prepares and executes code for one language.
type Runner interface {
	// Language returns the canonical language name.
	Language() string

	// Prepare writes an executable artifact for code. Imports are
	// declared as native variables ahead of the code; after the code runs
	// the artifact writes the named exports to the interchange file.
	Prepare(code string, imports value.Set, exports []string) (*Artifact, error)

	// Execute runs a prepared artifact. Failures of the block itself are
	// reported through Result.Status, never as a Go error.
	Execute(ctx context.Context, art *Artifact, limits sandbox.Limits) *Result

	// Cleanup removes the artifact's files. It is safe to call more than
	// once.
	Cleanup(art *Artifact)
}

// Artifact is a prepared block on disk.
type Artifact struct {
	Language string

	// Dir is the workspace root; SourceDir and WorkDir live inside it.
	Dir       string
	SourceDir string
	WorkDir   string

	// SourceFile is the path of the main source file and Code its content.
	SourceFile string
	Code       string

	Steps   []sandbox.Step
	Image   string
	Env     map[string]string
	Exports []string
}

// Workspace returns the sandbox view of the artifact directories.
func (a *Artifact) Workspace() sandbox.Workspace {
	return sandbox.Workspace{SourceDir: a.SourceDir, WorkDir: a.WorkDir}
}

// Result is the execution result of one block.
type Result struct {
	Status   Status
	Stdout   string
	Stderr   string
	ExitCode int
	Exported value.Set
	Duration time.Duration

	// SecurityBlocked is set when the block never ran because the
	// security validator rejected it.
	SecurityBlocked bool

	Backend  string
	Phase    sandbox.Phase
	Fallback string
}

// Success reports whether the block completed.
func (r *Result) Success() bool {
	return r != nil && r.Status == StatusCompleted
}

// Env carries what a runner needs from its surroundings.
type Env struct {
	// Executor runs artifact steps. Defaults to a local executor.
	Executor sandbox.Executor

	// ImagePrefix names container images as <prefix><language>:latest.
	ImagePrefix string

	// TempDir is the parent of artifact workspaces; empty means the
	// system temp directory.
	TempDir string

	Logger *slog.Logger
}

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Executor == nil {
		e.Executor = sandbox.NewLocal(e.Logger)
	}
	return e
}

// Factory creates a runner bound to env.
type Factory func(env Env) Runner

// Info describes a registered runner and its toolchain.
type Info struct {
	Language  string   `json:"language"`
	Aliases   []string `json:"aliases,omitempty"`
	Toolchain string   `json:"toolchain,omitempty"`
	Available bool     `json:"available"`
	Version   string   `json:"version,omitempty"`
	Compiled  bool     `json:"compiled"`
	Plugin    bool     `json:"plugin,omitempty"`
}

// Describer is implemented by runners that can report toolchain details.
type Describer interface {
	Info(ctx context.Context) Info
}
