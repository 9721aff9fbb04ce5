// Package auth authenticates façade callers and rate limits them.
//
// An AuthChain polls authenticators (apikey, jwt) that vote Yes, No or
// Abstain. Middleware turns the winning identity into request context:
// the identity itself, and the project owner that pkg/storage uses to
// scope project reads and writes. Runs are not scoped; only projects are.
package auth
