package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/runner/runnertest"
)

func newTestEngine(t *testing.T) (*engine.Engine, *runnertest.Echo) {
	t.Helper()
	echo := &runnertest.Echo{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return engine.New(
		engine.WithLogger(logger),
		engine.WithRegistry(runnertest.Registry(echo)),
	), echo
}

func boolPtr(b bool) *bool { return &b }

func TestEngineExecutor_Execute(t *testing.T) {
	e, echo := newTestEngine(t)
	x := NewEngineExecutor(e, engine.DefaultRunConfig(), api.DefaultValidationConfig())

	src := "#lang:echo\n#export:greeting\nset greeting hello\n#lang:e\n#import:greeting\nprint done\n"
	sum, err := x.Execute(context.Background(), &api.ExecuteRequest{
		Code:        src,
		Consolidate: boolPtr(false),
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !sum.Success {
		t.Fatalf("Success = false, blocks = %+v", sum.Blocks)
	}
	if got := echo.Executed.Load(); got != 2 {
		t.Errorf("executed %d blocks, want 2", got)
	}
	if diff := cmp.Diff("greeting=hello\ndone\n", sum.Blocks[1].Stdout); diff != "" {
		t.Errorf("second block stdout mismatch (-want +got):\n%s", diff)
	}
}

func TestEngineExecutor_PlainLanguage(t *testing.T) {
	e, _ := newTestEngine(t)
	x := NewEngineExecutor(e, engine.DefaultRunConfig(), api.DefaultValidationConfig())

	sum, err := x.Execute(context.Background(), &api.ExecuteRequest{Code: "print hi", Language: "echo"}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := api.FromSummary(sum).Output; got != "[echo] hi" {
		t.Errorf("Output = %q, want %q", got, "[echo] hi")
	}
}

func TestEngineExecutor_Errors(t *testing.T) {
	e, echo := newTestEngine(t)
	x := NewEngineExecutor(e, engine.DefaultRunConfig(), api.DefaultValidationConfig())

	tests := []struct {
		name      string
		req       *api.ExecuteRequest
		wantParam string
	}{
		{"empty code", &api.ExecuteRequest{Code: "  "}, "code"},
		{"negative timeout", &api.ExecuteRequest{Code: "#lang:echo\nprint x", TimeoutSeconds: -1}, "timeout_seconds"},
		{"no blocks", &api.ExecuteRequest{Code: "print x"}, "code"},
		{"empty block", &api.ExecuteRequest{Code: "#lang:echo\n"}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum, err := x.Execute(context.Background(), tt.req, nil)
			if sum != nil {
				t.Errorf("summary = %+v, want nil", sum)
			}
			var apiErr *api.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *api.APIError", err)
			}
			if apiErr.Type != api.ErrorTypeInvalidRequest || apiErr.Param != tt.wantParam {
				t.Errorf("error = %+v, want invalid_request on %q", apiErr, tt.wantParam)
			}
		})
	}
	if got := echo.Executed.Load(); got != 0 {
		t.Errorf("executed %d blocks, want 0", got)
	}
}

func TestEngineExecutor_RunConfig(t *testing.T) {
	defaults := engine.DefaultRunConfig()
	defaults.Languages = []string{"python"}
	x := NewEngineExecutor(nil, defaults, api.DefaultValidationConfig())

	got := x.RunConfig(&api.ExecuteRequest{})
	if !got.Consolidate || got.Isolation || got.ContinueOnFailure || got.Timeout != 0 {
		t.Errorf("RunConfig() without overrides = %+v, want defaults", got)
	}

	got = x.RunConfig(&api.ExecuteRequest{
		Languages:         []string{"bash", "go"},
		Consolidate:       boolPtr(false),
		Isolation:         boolPtr(true),
		ContinueOnFailure: boolPtr(true),
		TimeoutSeconds:    5,
	})
	if got.Consolidate || !got.Isolation || !got.ContinueOnFailure {
		t.Errorf("RunConfig() flags = %+v, want overridden", got)
	}
	if got.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", got.Timeout)
	}
	if diff := cmp.Diff([]string{"bash", "go"}, got.Languages); diff != "" {
		t.Errorf("Languages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"python"}, defaults.Languages); diff != "" {
		t.Errorf("defaults modified (-want +got):\n%s", diff)
	}
}
