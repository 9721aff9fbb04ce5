package source

import (
	"errors"
	"fmt"
)

// ErrValidation marks a source whose blocks cannot be executed.
var ErrValidation = errors.New("validation failed")

// Problem describes one invalid block.
type Problem struct {
	Index  int    `json:"index"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (p Problem) Error() string {
	if p.Index < 0 {
		return p.Reason
	}
	return fmt.Sprintf("block %d (line %d): %s", p.Index+1, p.Line, p.Reason)
}

// Validate reports every block with an empty language and every block
// whose body is empty. It never fails; an empty result means the blocks
// are runnable.
func Validate(blocks []Block) []Problem {
	if len(blocks) == 0 {
		return []Problem{{Index: -1, Reason: "no blocks found"}}
	}

	var problems []Problem
	for i, b := range blocks {
		if b.Language == "" {
			problems = append(problems, Problem{Index: i, Line: b.SourceLine, Reason: "missing language"})
		}
		if b.Code == "" {
			problems = append(problems, Problem{Index: i, Line: b.SourceLine, Reason: "empty block"})
		}
	}
	return problems
}

// Check runs Validate and folds the problems into a single error wrapping
// ErrValidation, or returns nil.
func Check(blocks []Block) error {
	problems := Validate(blocks)
	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, 0, len(problems)+1)
	errs = append(errs, ErrValidation)
	for _, p := range problems {
		errs = append(errs, p)
	}
	return errors.Join(errs...)
}
