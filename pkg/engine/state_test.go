package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/polyrun/pkg/value"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateValidating, true},
		{StatePending, StateRejected, true},
		{StatePending, StateRunning, false},
		{StateValidating, StateRejected, true},
		{StateValidating, StatePreparing, true},
		{StateValidating, StateCompleted, false},
		{StatePreparing, StateRunning, true},
		{StatePreparing, StateCrashed, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateTimedOut, true},
		{StateRunning, StateCrashed, true},
		{StateRunning, StateRejected, false},
		{StateCompleted, StateRunning, false},
		{StateRejected, StatePreparing, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateRejected, StateCompleted, StateTimedOut, StateCrashed} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []State{StatePending, StateValidating, StatePreparing, StateRunning} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestBlockReport_Advance(t *testing.T) {
	r := &BlockReport{}
	for _, s := range []State{StatePending, StateValidating, StatePreparing} {
		if err := r.advance(s); err != nil {
			t.Fatalf("advance(%s) error = %v", s, err)
		}
	}
	if err := r.advance(StateCompleted); err == nil {
		t.Error("advance(preparing -> completed) = nil, want error")
	}
	if r.State != StatePreparing {
		t.Errorf("State = %s after rejected transition, want preparing", r.State)
	}
	if diff := cmp.Diff([]State{StatePending, StateValidating, StatePreparing}, r.History); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
}

func TestSharedValueStore(t *testing.T) {
	s := NewSharedValueStore()
	s.Set("a", value.NewInt(1))
	s.Merge(value.Set{"b": value.NewString("x"), "a": value.NewInt(2)})

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if v, ok := s.Get("a"); !ok || !v.Equal(value.NewInt(2)) {
		t.Errorf("Get(a) = %v, %v; want 2 (later writes win)", v, ok)
	}
	if diff := cmp.Diff([]string{"a", "b"}, s.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}

	found, missing := s.Resolve([]string{"b", "zz", "a", "yy"})
	if diff := cmp.Diff(value.Set{"a": value.NewInt(2), "b": value.NewString("x")}, found); diff != "" {
		t.Errorf("Resolve() found mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"zz", "yy"}, missing); diff != "" {
		t.Errorf("Resolve() missing mismatch (-want +got):\n%s", diff)
	}

	snap := s.Snapshot()
	snap["c"] = value.NewBool(true)
	if _, ok := s.Get("c"); ok {
		t.Error("Snapshot() shares storage with the store")
	}
}
