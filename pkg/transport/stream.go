package transport

import (
	"context"
	"fmt"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/security"
)

var _ engine.Observer = (*StreamObserver)(nil)

// StreamObserver translates engine callbacks into numbered stream events.
// After the first write error it stops writing; Err reports that error.
type StreamObserver struct {
	ctx          context.Context
	w            EventWriter
	seq          int
	err          error
	onRunStarted func(runID string)
}

// NewStreamObserver creates an observer writing to w. onRunStarted, when
// not nil, is called with the run ID before the first event is written.
func NewStreamObserver(ctx context.Context, w EventWriter, onRunStarted func(runID string)) *StreamObserver {
	return &StreamObserver{ctx: ctx, w: w, onRunStarted: onRunStarted}
}

// Err returns the first error returned by the EventWriter.
func (o *StreamObserver) Err() error { return o.err }

func (o *StreamObserver) emit(e api.StreamEvent) {
	if o.err != nil {
		return
	}
	o.seq++
	e.SequenceNumber = o.seq
	o.err = o.w.WriteEvent(o.ctx, e)
}

func (o *StreamObserver) ParseCompleted(runID string, blocks int) {
	if o.onRunStarted != nil {
		o.onRunStarted(runID)
	}
	o.emit(api.StreamEvent{
		Type:    api.EventRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("parsed %d blocks", blocks),
	})
}

func (o *StreamObserver) Consolidated(runID string, before, after int) {
	o.emit(api.StreamEvent{
		Type:    api.EventConsolidated,
		RunID:   runID,
		Message: fmt.Sprintf("consolidated %d blocks into %d", before, after),
	})
}

func (o *StreamObserver) BlockStarted(runID string, r *engine.BlockReport) {
	o.emit(api.StreamEvent{
		Type:    api.EventBlockStarted,
		RunID:   runID,
		Message: fmt.Sprintf("executing %s block %d", r.Language, r.Index+1),
		Block:   api.FromReport(r),
	})
}

func (o *StreamObserver) BlockFinished(runID string, r *engine.BlockReport) {
	o.emit(api.StreamEvent{
		Type:  api.EventBlockFinished,
		RunID: runID,
		Block: api.FromReport(r),
	})
}

func (o *StreamObserver) SecurityBlocked(runID string, r *engine.BlockReport, v security.Verdict) {
	o.emit(api.StreamEvent{
		Type:    api.EventSecurityBlocked,
		RunID:   runID,
		Message: v.Reason,
		Block:   api.FromReport(r),
	})
}

func (o *StreamObserver) IsolationFallback(runID string, language, reason string) {
	o.emit(api.StreamEvent{
		Type:    api.EventIsolationFallback,
		RunID:   runID,
		Message: fmt.Sprintf("%s block ran locally: %s", language, reason),
	})
}

func (o *StreamObserver) RunFinished(s *engine.Summary) {
	o.emit(api.StreamEvent{
		Type:    api.EventRunFinished,
		RunID:   s.RunID,
		Summary: api.FromSummary(s),
	})
}

// Fail writes a terminal error event for a run that could not start.
func (o *StreamObserver) Fail(apiErr *api.APIError) {
	o.emit(api.StreamEvent{
		Type:    api.EventError,
		Message: apiErr.Message,
		Error:   apiErr,
	})
}
