package auth

import (
	"context"

	"github.com/rhuss/polyrun/pkg/storage"
)

type identityKey struct{}

// WithIdentity stores the caller in ctx and scopes project storage to the
// caller's owner. Anonymous callers stay unscoped.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	if owner := id.Owner(); owner != "" {
		ctx = storage.SetOwner(ctx, owner)
	}
	return ctx
}

// IdentityFromContext returns the caller set by WithIdentity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
