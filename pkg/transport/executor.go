package transport

import (
	"context"
	"time"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
)

var _ RunExecutor = (*EngineExecutor)(nil)

// EngineExecutor runs requests on an engine.Engine. Request fields
// override the server defaults for that run only.
type EngineExecutor struct {
	engine     *engine.Engine
	defaults   engine.RunConfig
	validation api.ValidationConfig
}

// NewEngineExecutor creates an executor with the given run defaults.
func NewEngineExecutor(e *engine.Engine, defaults engine.RunConfig, validation api.ValidationConfig) *EngineExecutor {
	return &EngineExecutor{engine: e, defaults: defaults, validation: validation}
}

// Execute validates req and runs it. Malformed sources are returned as
// invalid_request errors on the code parameter.
func (x *EngineExecutor) Execute(ctx context.Context, req *api.ExecuteRequest, obs engine.Observer) (*engine.Summary, error) {
	if apiErr := api.ValidateExecuteRequest(req, x.validation); apiErr != nil {
		return nil, apiErr
	}
	cfg := x.RunConfig(req)
	cfg.Observer = obs

	sum, err := x.engine.Run(ctx, req.Source(), cfg)
	if err != nil {
		return nil, api.NewInvalidRequestError("code", err.Error())
	}
	return sum, nil
}

// RunConfig merges the request overrides into the defaults.
func (x *EngineExecutor) RunConfig(req *api.ExecuteRequest) engine.RunConfig {
	cfg := x.defaults
	if len(req.Languages) > 0 {
		cfg.Languages = append([]string(nil), req.Languages...)
	}
	if req.Consolidate != nil {
		cfg.Consolidate = *req.Consolidate
	}
	if req.Isolation != nil {
		cfg.Isolation = *req.Isolation
	}
	if req.ContinueOnFailure != nil {
		cfg.ContinueOnFailure = *req.ContinueOnFailure
	}
	if req.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	return cfg
}
