// Package storage holds what the project stores share: the sentinel
// errors they wrap and the request-scoped owner that limits which
// projects a caller sees. The memory and postgres subpackages implement
// transport.ProjectStore.
package storage
