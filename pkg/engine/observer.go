package engine

import (
	"log/slog"

	"github.com/rhuss/polyrun/pkg/security"
)

// Observer receives run progress. Callbacks are invoked synchronously
// from the coordinator, in order, and must not block for long.
type Observer interface {
	ParseCompleted(runID string, blocks int)
	Consolidated(runID string, before, after int)
	BlockStarted(runID string, r *BlockReport)
	BlockFinished(runID string, r *BlockReport)
	SecurityBlocked(runID string, r *BlockReport, v security.Verdict)
	IsolationFallback(runID string, language, reason string)
	RunFinished(s *Summary)
}

// NopObserver ignores every event. Embed it to implement a subset.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) ParseCompleted(string, int) {}
func (NopObserver) Consolidated(string, int, int) {}
func (NopObserver) BlockStarted(string, *BlockReport) {}
func (NopObserver) BlockFinished(string, *BlockReport) {}
func (NopObserver) SecurityBlocked(string, *BlockReport, security.Verdict) {}
func (NopObserver) IsolationFallback(string, string, string) {}
func (NopObserver) RunFinished(*Summary) {}

// LogObserver writes run progress to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

var _ Observer = (*LogObserver)(nil)

// NewLogObserver returns a LogObserver. A nil logger uses slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{Logger: logger}
}

func (o *LogObserver) ParseCompleted(runID string, blocks int) {
	o.Logger.Debug("source parsed", "run_id", runID, "blocks", blocks)
}

func (o *LogObserver) Consolidated(runID string, before, after int) {
	o.Logger.Debug("blocks consolidated", "run_id", runID, "before", before, "after", after)
}

func (o *LogObserver) BlockStarted(runID string, r *BlockReport) {
	o.Logger.Info("block started",
		"run_id", runID,
		"index", r.Index,
		"language", r.Language,
		"line", r.SourceLine,
	)
}

func (o *LogObserver) BlockFinished(runID string, r *BlockReport) {
	attrs := []any{
		"run_id", runID,
		"index", r.Index,
		"language", r.Language,
		"status", string(r.Status),
		"duration", r.Duration,
	}
	if r.Backend != "" {
		attrs = append(attrs, "backend", r.Backend)
	}
	if len(r.MissingImports) > 0 {
		attrs = append(attrs, "missing_imports", r.MissingImports)
	}
	if r.Success {
		o.Logger.Info("block finished", attrs...)
		return
	}
	o.Logger.Warn("block failed", append(attrs, "error", r.Error)...)
}

func (o *LogObserver) SecurityBlocked(runID string, r *BlockReport, v security.Verdict) {
	o.Logger.Warn("block rejected by security check",
		"run_id", runID,
		"index", r.Index,
		"language", r.Language,
		"reason", v.Reason,
		"pattern", v.Pattern,
	)
}

func (o *LogObserver) IsolationFallback(runID string, language, reason string) {
	o.Logger.Warn("isolation unavailable, block ran locally",
		"run_id", runID,
		"language", language,
		"reason", reason,
	)
}

func (o *LogObserver) RunFinished(s *Summary) {
	o.Logger.Info("run finished",
		"run_id", s.RunID,
		"success", s.Success,
		"blocks", len(s.Blocks),
		"executed", s.BlocksExecuted,
		"aborted", s.Aborted,
		"duration", s.Duration,
	)
}

// MultiObserver forwards every event to each observer in order.
type MultiObserver []Observer

var _ Observer = MultiObserver(nil)

func (m MultiObserver) ParseCompleted(runID string, blocks int) {
	for _, o := range m {
		o.ParseCompleted(runID, blocks)
	}
}

func (m MultiObserver) Consolidated(runID string, before, after int) {
	for _, o := range m {
		o.Consolidated(runID, before, after)
	}
}

func (m MultiObserver) BlockStarted(runID string, r *BlockReport) {
	for _, o := range m {
		o.BlockStarted(runID, r)
	}
}

func (m MultiObserver) BlockFinished(runID string, r *BlockReport) {
	for _, o := range m {
		o.BlockFinished(runID, r)
	}
}

func (m MultiObserver) SecurityBlocked(runID string, r *BlockReport, v security.Verdict) {
	for _, o := range m {
		o.SecurityBlocked(runID, r, v)
	}
}

func (m MultiObserver) IsolationFallback(runID string, language, reason string) {
	for _, o := range m {
		o.IsolationFallback(runID, language, reason)
	}
}

func (m MultiObserver) RunFinished(s *Summary) {
	for _, o := range m {
		o.RunFinished(s)
	}
}
