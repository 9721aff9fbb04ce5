package storage

import "context"

type ownerKey struct{}

// SetOwner injects the authenticated owner into the context. Stores
// scope reads and writes to this owner.
func SetOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// GetOwner extracts the owner from the context. Returns an empty string
// when none is set (unauthenticated single-user mode).
func GetOwner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
