// Package transport defines the contracts and middleware between the
// PolyRun network façade and the execution engine.
//
// # Contracts
//
//   - RunExecutor executes a submitted source and reports progress to an
//     engine.Observer. EngineExecutor implements it on top of
//     engine.Engine.
//   - Catalog describes the registered languages and server status.
//   - ProjectStore persists saved sources and their share links; the
//     storage/memory and storage/postgres packages implement it.
//   - EventWriter delivers streaming events; the HTTP adapter implements
//     it for SSE and WebSocket connections.
//
// # Middleware
//
// Middleware wraps a RunExecutor. Built-in middleware provides panic
// recovery, request ID assignment (X-Request-ID), structured logging via
// log/slog and Serialized, which admits one run at a time because the
// engine assumes a single run per invocation.
package transport
