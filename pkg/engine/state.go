package engine

import "fmt"

// State is a block's position in its execution lifecycle:
//
//	pending -> validating -> rejected
//	                      -> preparing -> running -> completed | timed_out | crashed
//
// A block whose language has no runner is rejected straight from
// pending; a block whose artifact cannot be prepared crashes from
// preparing.
type State string

const (
	StatePending    State = "pending"
	StateValidating State = "validating"
	StateRejected   State = "rejected"
	StatePreparing  State = "preparing"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateTimedOut   State = "timed_out"
	StateCrashed    State = "crashed"
)

var transitions = map[State][]State{
	StatePending:    {StateValidating, StateRejected},
	StateValidating: {StateRejected, StatePreparing},
	StatePreparing:  {StateRunning, StateCrashed},
	StateRunning:    {StateCompleted, StateTimedOut, StateCrashed},
}

// CanTransition reports whether a block may move from s to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// advance moves the report to next and records it in the history.
func (r *BlockReport) advance(next State) error {
	if r.State != "" && !r.State.CanTransition(next) {
		return fmt.Errorf("invalid block transition %s -> %s", r.State, next)
	}
	r.State = next
	r.History = append(r.History, next)
	return nil
}
