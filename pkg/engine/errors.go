package engine

import (
	"errors"
	"fmt"

	"github.com/rhuss/polyrun/pkg/sandbox"
	"github.com/rhuss/polyrun/pkg/source"
)

// Run-level failures. Both abort a run before any block executes.
var (
	ErrParse      = source.ErrMalformedSource
	ErrValidation = source.ErrValidation
)

// Block-level failure kinds.
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrSecurityRejected    = errors.New("security rejected")
	ErrCompile             = errors.New("compile failure")
	ErrRuntime             = errors.New("runtime failure")
	ErrTimedOut            = errors.New("timed out")
)

// ErrIsolationUnavailable is never a failure; it is reported to observers
// when a block falls back to local execution.
var ErrIsolationUnavailable = sandbox.ErrIsolationUnavailable

// BlockError describes why a block failed.
type BlockError struct {
	Kind     error
	Language string
	Index    int
	Detail   string
}

func (e *BlockError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("block %d (%s): %v", e.Index, e.Language, e.Kind)
	}
	return fmt.Sprintf("block %d (%s): %v: %s", e.Index, e.Language, e.Kind, e.Detail)
}

// Is reports whether target is the failure kind.
func (e *BlockError) Is(target error) bool {
	return target == e.Kind
}

func (e *BlockError) Unwrap() error { return e.Kind }
