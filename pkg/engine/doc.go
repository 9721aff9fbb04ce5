// Package engine implements the run coordinator for PolyRun.
//
// An Engine parses a polyglot source, validates and consolidates its
// blocks, and executes them strictly in order. Before each block runs it
// is checked by the security validator; its imports are resolved from the
// run's SharedValueStore and its exports are merged back once it
// completes. Block failures are reported in the Summary rather than
// returned as errors; only unreadable or invalid sources fail a run.
// Progress is reported to an Observer.
package engine
