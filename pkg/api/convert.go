package api

import (
	"fmt"
	"strings"

	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/runner"
)

// FromSummary converts an engine summary to its wire form. Output holds
// the stdout of successful blocks and Error the failures, each line
// prefixed with the block's language.
func FromSummary(s *engine.Summary) *RunSummary {
	out := &RunSummary{
		RunID:              s.RunID,
		Success:            s.Success,
		ExecutionTime:      s.Duration.Seconds(),
		BlocksExecuted:     s.BlocksExecuted,
		BlocksConsolidated: s.BlocksConsolidated,
		Aborted:            s.Aborted,
		Blocks:             make([]BlockResult, 0, len(s.Blocks)),
		Shared:             s.Shared,
	}

	var output, errs []string
	for i := range s.Blocks {
		r := &s.Blocks[i]
		out.Blocks = append(out.Blocks, *FromReport(r))
		if r.Success {
			if r.Stdout != "" {
				output = append(output, fmt.Sprintf("[%s] %s", r.Language, strings.TrimRight(r.Stdout, "\n")))
			}
			continue
		}
		msg := r.Error
		if r.Stderr != "" {
			msg = strings.TrimRight(r.Stderr, "\n")
		}
		errs = append(errs, fmt.Sprintf("[%s] %s", r.Language, msg))
	}
	out.Output = strings.Join(output, "\n")
	out.Error = strings.Join(errs, "\n")
	return out
}

// FromReport converts one block report.
func FromReport(r *engine.BlockReport) *BlockResult {
	return &BlockResult{
		Index:           r.Index,
		Language:        r.Language,
		SourceLine:      r.SourceLine,
		Status:          string(r.Status),
		State:           string(r.State),
		Success:         r.Success,
		Stdout:          r.Stdout,
		Stderr:          r.Stderr,
		ExitCode:        r.ExitCode,
		ExecutionTime:   r.Duration.Seconds(),
		Exported:        r.Exported,
		MissingImports:  r.MissingImports,
		SecurityBlocked: r.SecurityBlocked,
		SecurityReason:  r.SecurityReason,
		Backend:         r.Backend,
		Fallback:        r.Fallback,
		Error:           r.Error,
	}
}

// FromInfo converts runner descriptions.
func FromInfo(infos []runner.Info) []LanguageInfo {
	out := make([]LanguageInfo, 0, len(infos))
	for _, i := range infos {
		out = append(out, LanguageInfo{
			Name:      i.Language,
			Aliases:   i.Aliases,
			Toolchain: i.Toolchain,
			Available: i.Available,
			Version:   i.Version,
			Compiled:  i.Compiled,
			Plugin:    i.Plugin,
		})
	}
	return out
}
