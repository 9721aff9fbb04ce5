// Package mcpserver exposes the engine as Model Context Protocol tools:
// execute, check and languages. It serves over stdio for local agents or
// over streamable HTTP next to the REST façade.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/debug"
	"github.com/rhuss/polyrun/pkg/engine"
	"github.com/rhuss/polyrun/pkg/transport"
)

// Checker dry-runs a source.
type Checker interface {
	Check(src string, cfg engine.RunConfig) (*engine.CheckReport, error)
}

// Config holds the MCP server settings.
type Config struct {
	Name    string
	Version string

	// Defaults are the run settings requests override.
	Defaults engine.RunConfig

	Validation api.ValidationConfig
	Logger     *slog.Logger
}

// Server is an MCP server backed by an engine.
type Server struct {
	server   *mcp.Server
	executor *transport.EngineExecutor
	run      transport.RunExecutor
	catalog  transport.Catalog
	checker  Checker
	logger   *slog.Logger
}

// ExecuteInput is the argument of the execute tool.
type ExecuteInput struct {
	Code              string   `json:"code" jsonschema:"polyglot source with #lang: directives, or plain code when language is set"`
	Language          string   `json:"language,omitempty" jsonschema:"treat code as a single block in this language"`
	Languages         []string `json:"languages,omitempty" jsonschema:"restrict execution to these languages"`
	Consolidate       *bool    `json:"consolidate,omitempty" jsonschema:"merge same-language blocks before execution"`
	Isolation         *bool    `json:"isolation,omitempty" jsonschema:"run blocks in the sandbox backend"`
	ContinueOnFailure *bool    `json:"continue_on_failure,omitempty" jsonschema:"keep running after a failed block"`
	TimeoutSeconds    int      `json:"timeout_seconds,omitempty" jsonschema:"per-block timeout in seconds"`
}

// CheckInput is the argument of the check tool.
type CheckInput struct {
	Code     string `json:"code" jsonschema:"polyglot source to validate without executing"`
	Language string `json:"language,omitempty" jsonschema:"treat code as a single block in this language"`
}

// New creates a server and registers its tools.
func New(e *engine.Engine, cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "polyrun"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validation == (api.ValidationConfig{}) {
		cfg.Validation = api.DefaultValidationConfig()
	}

	executor := transport.NewEngineExecutor(e, cfg.Defaults, cfg.Validation)
	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{Name: cfg.Name, Version: cfg.Version},
			nil,
		),
		executor: executor,
		run:      transport.Chain(transport.Recovery(), transport.Serialized())(executor),
		catalog:  transport.NewEngineCatalog(e, cfg.Defaults, cfg.Version),
		checker:  e,
		logger:   cfg.Logger,
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "execute",
		Description: "Execute a polyglot source. Blocks run in order and exported variables flow into later blocks.",
	}, s.handleExecute)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "check",
		Description: "Parse, validate and security-scan a polyglot source without executing it",
	}, s.handleCheck)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "languages",
		Description: "List the registered languages and whether their toolchains are available",
	}, s.handleLanguages)

	return s
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.server }

// Run serves a single session on t until the client disconnects or ctx
// is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.server.Run(ctx, t)
}

// ServeStdio serves over the process's stdin and stdout.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio")
	return s.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns a streamable HTTP handler for mounting at /mcp.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func (s *Server) handleExecute(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, any, error) {
	req := &api.ExecuteRequest{
		Code:              in.Code,
		Language:          in.Language,
		Languages:         in.Languages,
		Consolidate:       in.Consolidate,
		Isolation:         in.Isolation,
		ContinueOnFailure: in.ContinueOnFailure,
		TimeoutSeconds:    in.TimeoutSeconds,
	}
	debug.Log("mcp", "execute called", "bytes", len(in.Code), "language", in.Language)

	start := time.Now()
	sum, err := s.run.Execute(ctx, req, nil)
	if err != nil {
		return errorResult(err), nil, nil
	}
	out := api.FromSummary(sum)
	s.logger.Info("mcp execute finished",
		"run_id", out.RunID,
		"success", out.Success,
		"duration", time.Since(start),
	)
	return jsonResult(out, !out.Success), nil, nil
}

func (s *Server) handleCheck(_ context.Context, _ *mcp.CallToolRequest, in CheckInput) (*mcp.CallToolResult, any, error) {
	req := &api.ExecuteRequest{Code: in.Code, Language: in.Language}
	if apiErr := api.ValidateExecuteRequest(req, api.ValidationConfig{}); apiErr != nil {
		return errorResult(apiErr), nil, nil
	}
	report, err := s.checker.Check(req.Source(), s.executor.RunConfig(req))
	if err != nil {
		return errorResult(err), nil, nil
	}
	return jsonResult(report, !report.OK()), nil, nil
}

func (s *Server) handleLanguages(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	return jsonResult(s.catalog.Languages(ctx), false), nil, nil
}

// jsonResult renders v as indented JSON text content.
func jsonResult(v any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Errorf("encoding result: %w", err))
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: isError,
	}
}

func errorResult(err error) *mcp.CallToolResult {
	msg := err.Error()
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
		if apiErr.Param != "" {
			msg = apiErr.Param + ": " + msg
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: strings.TrimSpace(msg)}},
		IsError: true,
	}
}
