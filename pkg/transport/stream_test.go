package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

type recordingEventWriter struct {
	events []api.StreamEvent
	failAt int
}

func (w *recordingEventWriter) WriteEvent(_ context.Context, e api.StreamEvent) error {
	if w.failAt > 0 && len(w.events)+1 == w.failAt {
		return errors.New("client went away")
	}
	w.events = append(w.events, e)
	return nil
}

func (w *recordingEventWriter) types() []api.StreamEventType {
	out := make([]api.StreamEventType, 0, len(w.events))
	for _, e := range w.events {
		out = append(out, e.Type)
	}
	return out
}

func TestStreamObserver_RunEvents(t *testing.T) {
	e, _ := newTestEngine(t)
	x := NewEngineExecutor(e, engine.DefaultRunConfig(), api.DefaultValidationConfig())

	w := &recordingEventWriter{}
	var started string
	obs := NewStreamObserver(context.Background(), w, func(id string) { started = id })

	sum, err := x.Execute(context.Background(), &api.ExecuteRequest{
		Code: "#lang:echo\nprint one\n#lang:echo\nfail 3\n",
	}, obs)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if obs.Err() != nil {
		t.Fatalf("Err() = %v", obs.Err())
	}

	want := []api.StreamEventType{
		api.EventRunStarted,
		api.EventConsolidated,
		api.EventBlockStarted,
		api.EventBlockFinished,
		api.EventRunFinished,
	}
	if diff := cmp.Diff(want, w.types()); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if started != sum.RunID {
		t.Errorf("onRunStarted got %q, want %q", started, sum.RunID)
	}
	for i, ev := range w.events {
		if ev.SequenceNumber != i+1 {
			t.Errorf("events[%d].SequenceNumber = %d, want %d", i, ev.SequenceNumber, i+1)
		}
		if ev.RunID != sum.RunID {
			t.Errorf("events[%d].RunID = %q, want %q", i, ev.RunID, sum.RunID)
		}
	}
	last := w.events[len(w.events)-1]
	if !last.Terminal() || last.Summary == nil || last.Summary.Success {
		t.Errorf("last event = %+v, want failed run summary", last)
	}
}

func TestStreamObserver_StopsAfterWriteError(t *testing.T) {
	w := &recordingEventWriter{failAt: 2}
	obs := NewStreamObserver(context.Background(), w, nil)

	obs.ParseCompleted("run-1", 2)
	obs.Consolidated("run-1", 2, 1)
	obs.RunFinished(&engine.Summary{RunID: "run-1"})

	if obs.Err() == nil {
		t.Fatal("Err() = nil, want write error")
	}
	if len(w.events) != 1 {
		t.Errorf("wrote %d events, want 1", len(w.events))
	}
}

func TestStreamObserver_Fail(t *testing.T) {
	w := &recordingEventWriter{}
	obs := NewStreamObserver(context.Background(), w, nil)
	obs.Fail(api.NewInvalidRequestError("code", "code is required"))

	if len(w.events) != 1 {
		t.Fatalf("wrote %d events, want 1", len(w.events))
	}
	ev := w.events[0]
	if ev.Type != api.EventError || !ev.Terminal() || ev.Error.Param != "code" {
		t.Errorf("event = %+v, want terminal error on code", ev)
	}
}
