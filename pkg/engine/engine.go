package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/polyrun/pkg/consolidate"
	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/runner"
	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/security"
	"github.com/rhuss/polyrun/pkg/source"
)

// Engine coordinates runs. It holds only immutable collaborators, so one
// Engine may serve many runs; each run gets its own runner registry and
// value store.
type Engine struct {
	isolated    sandbox.Executor
	local       sandbox.Executor
	validator   *security.Validator
	observer    Observer
	logger      *slog.Logger
	imagePrefix string
	tempDir     string
	manifests   []runner.Manifest
	registry    func(runner.Env) *runner.Registry
}

// Option configures an Engine.
type Option func(*Engine)

// WithIsolatedExecutor sets the backend used when a run asks for
// isolation.
func WithIsolatedExecutor(e sandbox.Executor) Option {
	return func(en *Engine) { en.isolated = e }
}

// WithLocalExecutor replaces the local subprocess backend.
func WithLocalExecutor(e sandbox.Executor) Option {
	return func(en *Engine) { en.local = e }
}

// WithValidator sets the security validator.
func WithValidator(v *security.Validator) Option {
	return func(en *Engine) { en.validator = v }
}

// WithObserver sets the observer notified of run progress.
func WithObserver(o Observer) Option {
	return func(en *Engine) { en.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(en *Engine) { en.logger = l }
}

// WithImagePrefix sets the container image prefix for runners.
func WithImagePrefix(prefix string) Option {
	return func(en *Engine) { en.imagePrefix = prefix }
}

// WithTempDir sets the parent directory of artifact workspaces.
func WithTempDir(dir string) Option {
	return func(en *Engine) { en.tempDir = dir }
}

// WithManifests registers plugin runners in every run's registry.
func WithManifests(m []runner.Manifest) Option {
	return func(en *Engine) { en.manifests = m }
}

// WithRegistry replaces the built-in registry constructor.
func WithRegistry(fn func(runner.Env) *runner.Registry) Option {
	return func(en *Engine) { en.registry = fn }
}

// New creates an Engine. Without options it runs blocks locally with the
// built-in runners and security rules.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.local == nil {
		e.local = sandbox.NewLocal(e.logger)
	}
	if e.validator == nil {
		e.validator = security.New()
	}
	if e.observer == nil {
		e.observer = NewLogObserver(e.logger)
	}
	if e.registry == nil {
		e.registry = runner.Default
	}
	return e
}

// Registry returns a registry configured like the ones used for runs.
func (e *Engine) Registry(cfg RunConfig) *runner.Registry {
	executor := e.local
	if cfg.Isolation {
		executor = sandbox.NewSelector(e.isolated, e.local, e.logger)
	}
	reg := e.registry(runner.Env{
		Executor:    executor,
		ImagePrefix: e.imagePrefix,
		TempDir:     e.tempDir,
		Logger:      e.logger,
	})
	for _, m := range e.manifests {
		if err := reg.RegisterManifest(m); err != nil {
			e.logger.Warn("skipping invalid runner manifest", "language", m.Language, "error", err)
		}
	}
	return reg
}

// Isolated returns the isolated backend, or nil when none is configured.
func (e *Engine) Isolated() sandbox.Executor { return e.isolated }

// ImagePrefix returns the container image prefix runners use.
func (e *Engine) ImagePrefix() string { return e.imagePrefix }

// Validator returns the engine's security validator.
func (e *Engine) Validator() *security.Validator { return e.validator }

// Run parses src and executes its blocks.
func (e *Engine) Run(ctx context.Context, src string, cfg RunConfig) (*Summary, error) {
	return e.RunBlocks(ctx, source.Parse(src), cfg)
}

// RunFile reads and executes the source file at path.
func (e *Engine) RunFile(ctx context.Context, path string, cfg RunConfig) (*Summary, error) {
	blocks, err := source.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return e.RunBlocks(ctx, blocks, cfg)
}

// RunBlocks validates, consolidates and executes parsed blocks in order.
// The returned error is non-nil only when validation fails; block
// failures are reported in the Summary.
func (e *Engine) RunBlocks(ctx context.Context, blocks []source.Block, cfg RunConfig) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	obs := e.observer
	if cfg.Observer != nil {
		obs = MultiObserver{e.observer, cfg.Observer}
	}

	obs.ParseCompleted(runID, len(blocks))
	if err := source.Check(blocks); err != nil {
		return nil, err
	}

	reg, units := e.plan(blocks, cfg)
	obs.Consolidated(runID, len(blocks), len(units))
	debug.Log("engine", "run planned", "run_id", runID, "blocks", len(blocks), "units", len(units))

	enabled, err := enabledLanguages(reg, cfg.Languages)
	if err != nil {
		e.logger.Warn("ignoring unknown enabled language", "run_id", runID, "error", err)
	}

	store := NewSharedValueStore()
	summary := &Summary{
		RunID:              runID,
		BlocksConsolidated: len(blocks) - len(units),
		Blocks:             make([]BlockReport, 0, len(units)),
	}

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("run cancelled", "run_id", runID, "remaining", len(units)-i, "error", err)
			summary.Aborted = true
			break
		}

		report := e.runBlock(ctx, obs, runID, i, unit, reg, enabled, store, cfg)
		summary.Blocks = append(summary.Blocks, *report)
		if containsState(report.History, StateRunning) {
			summary.BlocksExecuted++
		}

		if report.Success {
			store.Merge(report.Exported)
			continue
		}
		if !cfg.ContinueOnFailure {
			summary.Aborted = i < len(units)-1
			break
		}
	}

	summary.Success = len(summary.Blocks) == len(units) && len(summary.Failed()) == 0
	summary.Duration = time.Since(start)
	summary.Shared = store.Snapshot()
	obs.RunFinished(summary)
	return summary, nil
}

// plan builds the run's registry and consolidates blocks against it.
func (e *Engine) plan(blocks []source.Block, cfg RunConfig) (*runner.Registry, []consolidate.Block) {
	reg := e.Registry(cfg)
	units := consolidate.Consolidate(blocks, consolidate.Options{
		Disabled: !cfg.Consolidate,
		Canonical: func(lang string) string {
			if c, ok := reg.Canonical(lang); ok {
				return c
			}
			return lang
		},
	})
	return reg, units
}

// runBlock takes one consolidated block through its lifecycle.
func (e *Engine) runBlock(ctx context.Context, obs Observer, runID string, index int, unit consolidate.Block, reg *runner.Registry, enabled map[string]bool, store *SharedValueStore, cfg RunConfig) *BlockReport {
	report := &BlockReport{
		Index:      index,
		Language:   unit.Language,
		SourceLine: unit.SourceLine,
		Sources:    unit.Sources,
	}
	e.mustAdvance(report, StatePending)
	obs.BlockStarted(runID, report)
	start := time.Now()
	defer func() {
		if report.Duration == 0 {
			report.Duration = time.Since(start)
		}
		obs.BlockFinished(runID, report)
	}()

	run, ok := reg.Get(unit.Language)
	if !ok || (enabled != nil && !enabled[run.Language()]) {
		e.mustAdvance(report, StateRejected)
		report.Status = runner.StatusUnsupported
		report.fail(ErrUnsupportedLanguage, fmt.Sprintf("no runner enabled for %q", unit.Language))
		return report
	}
	report.Language = run.Language()

	e.mustAdvance(report, StateValidating)
	if verdict := e.validator.Check(unit.Code, report.Language); !verdict.Allowed {
		e.mustAdvance(report, StateRejected)
		report.Status = runner.StatusRejected
		report.SecurityBlocked = true
		report.SecurityReason = verdict.Reason
		report.fail(ErrSecurityRejected, verdict.Reason)
		obs.SecurityBlocked(runID, report, verdict)
		return report
	}

	e.mustAdvance(report, StatePreparing)
	imports, missing := store.Resolve(unit.Imports)
	report.MissingImports = externalMissing(missing, unit.Exports)

	art, err := run.Prepare(unit.Code, imports, unit.Exports)
	if err != nil {
		e.mustAdvance(report, StateCrashed)
		report.Status = runner.StatusRuntimeFailed
		report.ExitCode = -1
		report.fail(ErrRuntime, err.Error())
		return report
	}
	defer run.Cleanup(art)

	e.mustAdvance(report, StateRunning)
	res := run.Execute(ctx, art, cfg.limits())

	report.Status = res.Status
	report.Stdout = res.Stdout
	report.Stderr = res.Stderr
	report.ExitCode = res.ExitCode
	report.Duration = res.Duration
	report.Backend = res.Backend
	report.Fallback = res.Fallback
	if res.Fallback != "" {
		obs.IsolationFallback(runID, report.Language, res.Fallback)
	}

	switch res.Status {
	case runner.StatusCompleted:
		e.mustAdvance(report, StateCompleted)
		report.Success = true
		report.Exported = res.Exported
	case runner.StatusTimedOut:
		e.mustAdvance(report, StateTimedOut)
		report.fail(ErrTimedOut, fmt.Sprintf("exceeded %s", cfg.limits().StepTimeout(res.Phase)))
	case runner.StatusCompileFailed:
		e.mustAdvance(report, StateCrashed)
		report.fail(ErrCompile, firstLine(res.Stderr))
	default:
		e.mustAdvance(report, StateCrashed)
		report.fail(ErrRuntime, fmt.Sprintf("exit status %d", res.ExitCode))
	}
	return report
}

func (e *Engine) mustAdvance(r *BlockReport, next State) {
	if err := r.advance(next); err != nil {
		// Transitions are fixed by runBlock; a failure here is a bug.
		e.logger.Error("block state machine violated", "index", r.Index, "error", err)
	}
}

// enabledLanguages resolves the configured languages to canonical names.
// A nil map allows everything.
func enabledLanguages(reg *runner.Registry, langs []string) (map[string]bool, error) {
	if len(langs) == 0 {
		return nil, nil
	}
	out := make(map[string]bool, len(langs))
	var errs []error
	for _, l := range langs {
		c, ok := reg.Canonical(l)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, l))
			continue
		}
		out[c] = true
	}
	return out, errors.Join(errs...)
}

// externalMissing drops names the block exports itself: after
// consolidation a later part of the block may import what an earlier part
// exported.
func externalMissing(missing, exports []string) []string {
	var out []string
	for _, m := range missing {
		internal := false
		for _, x := range exports {
			if m == x {
				internal = true
				break
			}
		}
		if !internal {
			out = append(out, m)
		}
	}
	return out
}

func containsState(states []State, s State) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
