package engine

import (
	"github.com/rhuss/polyrun/pkg/security"
	"github.com/rhuss/polyrun/pkg/source"
)

// CheckReport is the outcome of a dry run: the source was parsed,
// validated, consolidated and scanned, but nothing was executed.
type CheckReport struct {
	Blocks             int           `json:"blocks"`
	BlocksConsolidated int           `json:"blocks_consolidated"`
	Units              []CheckedUnit `json:"units"`
}

// CheckedUnit describes one consolidated block as it would be executed.
type CheckedUnit struct {
	Index      int              `json:"index"`
	Language   string           `json:"language"`
	SourceLine int              `json:"source_line"`
	Sources    []int            `json:"sources"`
	Supported  bool             `json:"supported"`
	Imports    []string         `json:"imports,omitempty"`
	Exports    []string         `json:"exports,omitempty"`
	Verdict    security.Verdict `json:"verdict"`
}

// OK reports whether every unit has a runner and passes the security check.
func (r *CheckReport) OK() bool {
	for _, u := range r.Units {
		if !u.Supported || !u.Verdict.Allowed {
			return false
		}
	}
	return true
}

// Check parses and validates src and reports what a run would do. It
// returns an error only when the source fails validation.
func (e *Engine) Check(src string, cfg RunConfig) (*CheckReport, error) {
	blocks := source.Parse(src)
	if err := source.Check(blocks); err != nil {
		return nil, err
	}

	reg, units := e.plan(blocks, cfg)
	enabled, _ := enabledLanguages(reg, cfg.Languages)

	report := &CheckReport{
		Blocks:             len(blocks),
		BlocksConsolidated: len(blocks) - len(units),
		Units:              make([]CheckedUnit, 0, len(units)),
	}
	for i, u := range units {
		cu := CheckedUnit{
			Index:      i,
			Language:   u.Language,
			SourceLine: u.SourceLine,
			Sources:    u.Sources,
			Imports:    u.Imports,
			Exports:    u.Exports,
		}
		if run, ok := reg.Get(u.Language); ok && (enabled == nil || enabled[run.Language()]) {
			cu.Supported = true
			cu.Language = run.Language()
			cu.Verdict = e.validator.Check(u.Code, cu.Language)
		} else {
			cu.Verdict = security.Verdict{Allowed: true}
		}
		report.Units = append(report.Units, cu)
	}
	return report, nil
}
