package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInFlightRegistryRegisterAndCancel(t *testing.T) {
	r := NewInFlightRegistry()

	cancelled := false
	r.Register("run-1", func() { cancelled = true })

	if !r.Cancel("run-1") {
		t.Error("Cancel should return true for registered ID")
	}
	if !cancelled {
		t.Error("cancel function should have been called")
	}
	if r.Cancel("run-1") {
		t.Error("Cancel should return false after already cancelled")
	}
}

func TestInFlightRegistryCancelUnknown(t *testing.T) {
	if NewInFlightRegistry().Cancel("missing") {
		t.Error("Cancel should return false for unknown ID")
	}
}

func TestInFlightRegistryRemove(t *testing.T) {
	r := NewInFlightRegistry()

	cancelled := false
	r.Register("run-1", func() { cancelled = true })
	r.Remove("run-1")
	r.Remove("missing")

	if r.Cancel("run-1") {
		t.Error("Cancel should return false after Remove")
	}
	if cancelled {
		t.Error("cancel function should not have been called by Remove")
	}
}

func TestInFlightRegistryActive(t *testing.T) {
	r := NewInFlightRegistry()
	r.Register("run-b", func() {})
	r.Register("run-a", func() {})
	r.Register("run-c", func() {})
	r.Remove("run-c")

	if diff := cmp.Diff([]string{"run-a", "run-b"}, r.Active()); diff != "" {
		t.Errorf("Active() mismatch (-want +got):\n%s", diff)
	}
}

func TestInFlightRegistryConcurrentAccess(t *testing.T) {
	r := NewInFlightRegistry()
	var cancelCount atomic.Int64
	const numEntries = 100

	var wg sync.WaitGroup
	for i := 0; i < numEntries; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Register(id, func() { cancelCount.Add(1) })
		}(fmt.Sprintf("run-%d", i))
	}
	wg.Wait()

	for i := 0; i < numEntries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("run-%d", i)
			if i%2 == 0 {
				r.Cancel(id)
			} else {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if got := cancelCount.Load(); got != numEntries/2 {
		t.Errorf("cancellations = %d, want %d", got, numEntries/2)
	}
	if n := len(r.Active()); n != 0 {
		t.Errorf("Active() has %d entries, want 0", n)
	}
}
