package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

// Recovery turns a panic inside a run into a server_error result and
// logs the stack, so one bad run does not take the server down.
func Recovery() Middleware {
	return func(next RunExecutor) RunExecutor {
		return RunExecutorFunc(func(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (sum *engine.Summary, err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("run panicked",
						"request_id", RequestIDFromContext(ctx),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					sum, err = nil, api.NewServerError(fmt.Sprintf("internal server error: %v", r))
				}
			}()
			return next.Execute(ctx, req, obs)
		})
	}
}
