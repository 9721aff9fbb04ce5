package sandbox

import (
	"context"
	"fmt"
	"log/slog"
)

var _ Executor = (*Selector)(nil)

// Selector runs jobs on an isolated backend when it is available and
// falls back to the local backend otherwise. Fallback is logged and
// recorded on the Outcome; it is never an error.
type Selector struct {
	isolated Executor
	local    Executor
	logger   *slog.Logger
}

// NewSelector creates a selector. A nil isolated executor always falls
// back.
func NewSelector(isolated, local Executor, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{isolated: isolated, local: local, logger: logger}
}

func (s *Selector) Name() string {
	if s.isolated == nil {
		return s.local.Name()
	}
	return s.isolated.Name()
}

// Available reports whether the isolated backend can run the job.
func (s *Selector) Available(ctx context.Context, language, image string) error {
	if s.isolated == nil {
		return fmt.Errorf("%w: no isolated backend configured", ErrIsolationUnavailable)
	}
	return s.isolated.Available(ctx, language, image)
}

// Pick returns the executor for a job and, when falling back, the reason.
func (s *Selector) Pick(ctx context.Context, language, image string) (Executor, error) {
	if err := s.Available(ctx, language, image); err != nil {
		return s.local, err
	}
	return s.isolated, nil
}

func (s *Selector) Run(ctx context.Context, job Job) (*Outcome, error) {
	backend, reason := s.Pick(ctx, job.Language, job.Image)
	if reason != nil {
		s.logger.Warn("isolation unavailable, running locally",
			"language", job.Language,
			"image", job.Image,
			"reason", reason.Error(),
		)
	}

	out, err := backend.Run(ctx, job)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		out.Fallback = reason.Error()
	}
	return out, nil
}
