package engine

import (
	"sort"

	"github.com/rhuss/polyrun/pkg/value"
)

// SharedValueStore holds the values exported so far in one run. It is
// owned by the coordinator and only mutated between blocks, so it is not
// safe for concurrent use.
type SharedValueStore struct {
	values map[string]value.Value
}

// NewSharedValueStore returns an empty store.
func NewSharedValueStore() *SharedValueStore {
	return &SharedValueStore{values: make(map[string]value.Value)}
}

// Get returns the value for name.
func (s *SharedValueStore) Get(name string) (value.Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Set stores v under name, replacing any earlier value.
func (s *SharedValueStore) Set(name string, v value.Value) {
	s.values[name] = v
}

// Merge stores every value of set.
func (s *SharedValueStore) Merge(set value.Set) {
	for name, v := range set {
		s.values[name] = v
	}
}

// Resolve looks up names and returns the values found plus the names
// that are absent, in the order requested.
func (s *SharedValueStore) Resolve(names []string) (value.Set, []string) {
	found := make(value.Set, len(names))
	var missing []string
	for _, n := range names {
		if v, ok := s.values[n]; ok {
			found[n] = v
			continue
		}
		missing = append(missing, n)
	}
	return found, missing
}

// Len returns the number of stored names.
func (s *SharedValueStore) Len() int { return len(s.values) }

// Names returns the stored names in sorted order.
func (s *SharedValueStore) Names() []string {
	names := make([]string, 0, len(s.values))
	for n := range s.values {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of the stored values.
func (s *SharedValueStore) Snapshot() value.Set {
	out := make(value.Set, len(s.values))
	for n, v := range s.values {
		out[n] = v
	}
	return out
}
