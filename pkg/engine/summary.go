package engine

import (
	"strings"
	"time"

	"github.com/rhuss/polyrun/pkg/runner"
	"github.com/rhuss/polyrun/pkg/value"
)

// BlockReport is the outcome of one executed (consolidated) block.
type BlockReport struct {
	Index      int    `json:"index"`
	Language   string `json:"language"`
	SourceLine int    `json:"source_line"`

	// Sources lists the indexes of the parsed blocks merged into this one.
	Sources []int `json:"sources,omitempty"`

	Status  runner.Status `json:"status"`
	State   State         `json:"state"`
	History []State       `json:"history,omitempty"`
	Success bool          `json:"success"`

	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`

	Exported       value.Set `json:"exported,omitempty"`
	MissingImports []string  `json:"missing_imports,omitempty"`

	SecurityBlocked bool   `json:"security_blocked,omitempty"`
	SecurityReason  string `json:"security_reason,omitempty"`

	Backend  string `json:"backend,omitempty"`
	Fallback string `json:"fallback,omitempty"`

	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// fail records a block failure of the given kind.
func (r *BlockReport) fail(kind error, detail string) {
	r.Success = false
	r.Err = &BlockError{Kind: kind, Language: r.Language, Index: r.Index, Detail: detail}
	r.Error = r.Err.Error()
}

// Summary is the result of a whole run.
type Summary struct {
	RunID              string        `json:"run_id"`
	Success            bool          `json:"success"`
	Blocks             []BlockReport `json:"blocks"`
	BlocksExecuted     int           `json:"blocks_executed"`
	BlocksConsolidated int           `json:"blocks_consolidated"`
	Duration           time.Duration `json:"duration"`

	// Aborted is set when a failing block stopped the run.
	Aborted bool `json:"aborted,omitempty"`

	// Shared holds the store contents at the end of the run.
	Shared value.Set `json:"shared,omitempty"`
}

// Output concatenates the stdout of every block.
func (s *Summary) Output() string {
	var b strings.Builder
	for _, r := range s.Blocks {
		b.WriteString(r.Stdout)
	}
	return b.String()
}

// Errors concatenates the stderr of every block, followed by block
// failure messages.
func (s *Summary) Errors() string {
	var parts []string
	for _, r := range s.Blocks {
		if r.Stderr != "" {
			parts = append(parts, strings.TrimRight(r.Stderr, "\n"))
		}
	}
	for _, r := range s.Blocks {
		if r.Error != "" {
			parts = append(parts, r.Error)
		}
	}
	return strings.Join(parts, "\n")
}

// Failed returns the reports of blocks that did not succeed.
func (s *Summary) Failed() []BlockReport {
	var out []BlockReport
	for _, r := range s.Blocks {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
