package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

// Logging returns middleware that emits one structured log entry per run
// with the request ID, run ID, outcome and duration. HTTP status codes
// are logged by the adapter's HTTP-level middleware.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next RunExecutor) RunExecutor {
		return RunExecutorFunc(func(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error) {
			start := time.Now()
			sum, err := next.Execute(ctx, req, obs)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.Int("source_bytes", len(req.Code)),
				slog.Duration("duration", time.Since(start)),
			}
			if req.Language != "" {
				attrs = append(attrs, slog.String("language", req.Language))
			}
			if sum != nil {
				attrs = append(attrs,
					slog.String("run_id", sum.RunID),
					slog.Bool("success", sum.Success),
					slog.Int("blocks_executed", sum.BlocksExecuted),
				)
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "run failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "run completed", attrs...)
			}
			return sum, err
		})
	}
}
