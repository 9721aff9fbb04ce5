package transport

import (
	"context"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

// Serialized returns middleware that admits one run at a time. Callers
// queue until the active run finishes or their context is done.
func Serialized() Middleware {
	slot := make(chan struct{}, 1)
	return func(next RunExecutor) RunExecutor {
		return RunExecutorFunc(func(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error) {
			select {
			case slot <- struct{}{}:
			case <-ctx.Done():
				return nil, api.NewTooManyRequestsError("another run is in progress")
			}
			defer func() { <-slot }()
			return next.Execute(ctx, req, obs)
		})
	}
}
