package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/app"
	"github.com/rhuss/polyrun/pkg/mcpserver"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the execute, check and languages tools over MCP stdio",
		Long: `Serve polyrun as a Model Context Protocol server on stdin and stdout.

Logs go to stderr so they never mix with protocol messages.`,
		Args: cobra.NoArgs,
		RunE: runMCP,
	}
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc, err := app.RunConfig(cfg)
	if err != nil {
		return err
	}
	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	srv := mcpserver.New(e, mcpserver.Config{
		Version:    app.Version,
		Defaults:   rc,
		Validation: api.DefaultValidationConfig(),
		Logger:     slog.Default(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ServeStdio(ctx)
}
