package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/value"
)

// Environment variables through which artifacts locate the interchange
// files. Values use the {work} placeholder so every backend sees its own
// path.
const (
	ExportFileEnv = "POLYRUN_EXPORT_FILE"
	ImportFileEnv = "POLYRUN_IMPORT_FILE"
)

// ErrInvalidName is returned by Prepare when an import or export name is
// not a valid identifier.
var ErrInvalidName = errors.New("invalid variable name")

// Render produces the source files of an artifact, keyed by file name.
// The map must contain the definition's main file.
type Render func(code string, imports value.Set, exports []string) (map[string]string, error)

// Definition describes a runner built on the shared plumbing: a set of
// rendered source files plus compile and run argv templates.
type Definition struct {
	Language string

	// File is the main source file name, e.g. "main.py".
	File string

	// Toolchain is the binary reported by Info; VersionArgs prints its
	// version.
	Toolchain   string
	VersionArgs []string

	// Image overrides the default <prefix><language>:latest image.
	Image string

	// Compile is optional; Run is required. Both may use the {src} and
	// {work} placeholders.
	Compile []string
	Run     []string

	Render Render
	Plugin bool
}

// Base implements Runner for a Definition.
type Base struct {
	def Definition
	env Env
}

var _ Runner = (*Base)(nil)
var _ Describer = (*Base)(nil)

// New creates a runner from a definition.
func New(def Definition, env Env) *Base {
	return &Base{def: def, env: env.withDefaults()}
}

// Definition returns the runner's definition.
func (b *Base) Definition() Definition { return b.def }

func (b *Base) Language() string { return b.def.Language }

// Prepare creates a workspace with a read-only source directory and a
// writable work directory, renders the sources into it and records the
// steps. The workspace is removed again if anything fails.
func (b *Base) Prepare(code string, imports value.Set, exports []string) (*Artifact, error) {
	for name := range imports {
		if !value.ValidIdentifier(name) {
			return nil, fmt.Errorf("%w: import %q", ErrInvalidName, name)
		}
	}
	for _, name := range exports {
		if !value.ValidIdentifier(name) {
			return nil, fmt.Errorf("%w: export %q", ErrInvalidName, name)
		}
	}

	files, err := b.def.Render(code, imports, exports)
	if err != nil {
		return nil, fmt.Errorf("rendering %s source: %w", b.def.Language, err)
	}
	main, ok := files[b.def.File]
	if !ok {
		return nil, fmt.Errorf("rendering %s source: %s missing", b.def.Language, b.def.File)
	}

	dir, err := os.MkdirTemp(b.env.TempDir, "polyrun-"+b.def.Language+"-")
	if err != nil {
		return nil, fmt.Errorf("creating workspace: %w", err)
	}
	art := &Artifact{
		Language:   b.def.Language,
		Dir:        dir,
		SourceDir:  filepath.Join(dir, "src"),
		WorkDir:    filepath.Join(dir, "work"),
		SourceFile: filepath.Join(dir, "src", b.def.File),
		Code:       main,
		Image:      b.def.Image,
		Exports:    append([]string(nil), exports...),
		Env: map[string]string{
			ExportFileEnv: sandbox.WorkPlaceholder + "/" + value.ExportFile,
			ImportFileEnv: sandbox.WorkPlaceholder + "/" + value.ImportFile,
		},
	}
	if art.Image == "" {
		art.Image = sandbox.ImageName(b.env.ImagePrefix, b.def.Language)
	}
	if len(b.def.Compile) > 0 {
		art.Steps = append(art.Steps, sandbox.Step{Phase: sandbox.PhaseCompile, Argv: b.def.Compile})
	}
	art.Steps = append(art.Steps, sandbox.Step{Phase: sandbox.PhaseRun, Argv: b.def.Run})

	if err := writeWorkspace(art, files, imports); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	debug.Log("runner", "artifact prepared",
		"language", art.Language,
		"dir", art.Dir,
		"imports", len(imports),
		"exports", len(exports),
	)
	return art, nil
}

// writeWorkspace lays out the artifact directories. Containers run as an
// unprivileged user, so the work directory is world-writable and sources
// are world-readable.
func writeWorkspace(art *Artifact, files map[string]string, imports value.Set) error {
	if err := os.Chmod(art.Dir, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	if err := os.Mkdir(art.SourceDir, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	if err := os.Mkdir(art.WorkDir, 0o777); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	// Mkdir is subject to the umask.
	if err := os.Chmod(art.WorkDir, 0o777); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	for name, content := range files {
		if err := os.WriteFile(filepath.Join(art.SourceDir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	if len(imports) > 0 {
		path := filepath.Join(art.WorkDir, value.ImportFile)
		if err := imports.WriteFile(path); err != nil {
			return fmt.Errorf("writing %s: %w", value.ImportFile, err)
		}
		if err := os.Chmod(path, 0o666); err != nil {
			return fmt.Errorf("writing %s: %w", value.ImportFile, err)
		}
	}
	return nil
}

// Execute runs the artifact steps on the configured executor and reads
// the exports when the block completed.
func (b *Base) Execute(ctx context.Context, art *Artifact, limits sandbox.Limits) *Result {
	start := time.Now()
	out, err := b.env.Executor.Run(ctx, sandbox.Job{
		Language:  art.Language,
		Image:     art.Image,
		Workspace: art.Workspace(),
		Steps:     art.Steps,
		Env:       art.Env,
		Limits:    limits,
	})
	if err != nil {
		b.env.Logger.Error("sandbox execution failed", "language", art.Language, "backend", b.env.Executor.Name(), "error", err)
		return &Result{
			Status:   StatusRuntimeFailed,
			Stderr:   err.Error(),
			ExitCode: -1,
			Duration: time.Since(start),
			Backend:  b.env.Executor.Name(),
			Phase:    sandbox.PhaseRun,
			Exported: value.Set{},
		}
	}

	res := FromOutcome(out)
	if res.Status == StatusCompleted && len(art.Exports) > 0 {
		res.Exported = value.ReadExports(filepath.Join(art.WorkDir, value.ExportFile), art.Exports, b.env.Logger)
	}
	return res
}

// FromOutcome maps a sandbox outcome to a block result. A timeout wins
// over the exit code; a non-zero exit is a compile failure when the
// compile step produced it.
func FromOutcome(out *sandbox.Outcome) *Result {
	res := &Result{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: out.Duration,
		Backend:  out.Backend,
		Phase:    out.Phase,
		Fallback: out.Fallback,
		Exported: value.Set{},
	}
	switch {
	case out.TimedOut:
		res.Status = StatusTimedOut
	case out.ExitCode != 0 && out.Phase == sandbox.PhaseCompile:
		res.Status = StatusCompileFailed
	case out.ExitCode != 0:
		res.Status = StatusRuntimeFailed
	default:
		res.Status = StatusCompleted
	}
	return res
}

func (b *Base) Cleanup(art *Artifact) {
	if art == nil || art.Dir == "" {
		return
	}
	if err := os.RemoveAll(art.Dir); err != nil {
		b.env.Logger.Warn("removing artifact workspace failed", "dir", art.Dir, "error", err)
	}
}

// Info reports the toolchain binary, whether it is on PATH, and the first
// line of its version output.
func (b *Base) Info(ctx context.Context) Info {
	info := Info{
		Language:  b.def.Language,
		Toolchain: b.def.Toolchain,
		Compiled:  len(b.def.Compile) > 0,
		Plugin:    b.def.Plugin,
	}
	if b.def.Toolchain == "" {
		return info
	}
	path, err := exec.LookPath(b.def.Toolchain)
	if err != nil {
		return info
	}
	info.Available = true
	if len(b.def.VersionArgs) == 0 {
		return info
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, b.def.VersionArgs...).CombinedOutput()
	if err != nil {
		return info
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	info.Version = strings.TrimSpace(line)
	return info
}
