package transport

import (
	"context"
	"sort"
	"sync"
)

// InFlightRegistry tracks active runs for explicit cancellation. It maps
// run IDs to their cancel functions, allowing DELETE /api/runs/{id} to
// stop a run that is still executing.
//
// All methods are safe for concurrent access.
type InFlightRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewInFlightRegistry creates a new empty registry.
func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{
		entries: make(map[string]context.CancelFunc),
	}
}

// Register adds an active run. cancel is called if the run is cancelled
// explicitly.
func (r *InFlightRegistry) Register(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[runID] = cancel
}

// Cancel cancels an active run. Returns false if the ID is unknown,
// either because the run already finished or never existed.
func (r *InFlightRegistry) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.entries[runID]
	if !ok {
		return false
	}
	cancel()
	delete(r.entries, runID)
	return true
}

// Remove drops a finished run without cancelling it.
func (r *InFlightRegistry) Remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, runID)
}

// Active returns the IDs of the registered runs in sorted order.
func (r *InFlightRegistry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
