package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

type requestIDKey struct{}

// RequestIDFromContext returns the request ID, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID returns ctx carrying id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID assigns a request ID to runs that arrive without one. The
// HTTP adapter sets it from the X-Request-ID header when present.
func RequestID() Middleware {
	return func(next RunExecutor) RunExecutor {
		return RunExecutorFunc(func(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error) {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, uuid.NewString())
			}
			return next.Execute(ctx, req, obs)
		})
	}
}
