// Package api defines the wire types of the PolyRun network façade.
//
// The types cover three areas:
//   - [ExecuteRequest] and [RunSummary]: submitting source text and
//     receiving the per-block results of a run
//   - [StreamEvent]: progress events sent over the WebSocket endpoint
//   - [Project], [ShareLink], [Stats]: saved source files and their
//     share links
//
// Errors are reported as [APIError] wrapped in an [ErrorResponse]. The
// package performs no I/O.
package api
