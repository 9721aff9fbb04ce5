// Command server runs the polyrun HTTP API.
//
// Configuration is read from a YAML file and POLYRUN_* environment
// variables (see pkg/config). The config file is found via the -config
// flag, POLYRUN_CONFIG, ./polyrun.yaml or /etc/polyrun/config.yaml.
//
// Common environment overrides:
//
//	POLYRUN_PORT       - Listen port (default: 8080)
//	POLYRUN_ISOLATION  - none, docker or remote (default: none)
//	POLYRUN_STORAGE    - memory or postgres (default: memory)
//	POLYRUN_AUTH_TYPE  - none, apikey or jwt (default: none)
//	POLYRUN_LOG_LEVEL  - ERROR, WARN, INFO, DEBUG or TRACE
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhuss/polyrun/pkg/app"
	"github.com/rhuss/polyrun/pkg/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	app.SetupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Serve(ctx, cfg, slog.Default())
}
