package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a project or share link does not exist
	// or is not visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a project with the given ID already exists.
	ErrConflict = errors.New("project already exists")

	// ErrExpired is returned when a share link is past its expiry.
	ErrExpired = errors.New("share link expired")
)
