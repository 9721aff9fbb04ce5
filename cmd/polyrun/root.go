package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/polyrun/pkg/app"
	"github.com/rhuss/polyrun/pkg/config"
	"github.com/rhuss/polyrun/pkg/engine"
)

// errFailed reports a command whose failure details were already printed.
var errFailed = errors.New("failed")

// engineOptions are appended to every engine the CLI builds.
var engineOptions []engine.Option

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "polyrun",
		Short: "Run polyglot source files block by block",
		Long: `polyrun - Execute source files that mix languages.

A source is split into blocks by "#lang: <language>" directives. Blocks run
in order; "#export: name" publishes a variable after a block finishes and
"#import: name" injects it into a later block as a native value.

Supported out of the box: python, javascript, bash, cpp and go. More
languages can be added with runner plugin manifests.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Config file (default: $POLYRUN_CONFIG, ./polyrun.yaml, /etc/polyrun/config.yaml)")
	root.PersistentFlags().String("log-format", "", "Log format: text or json")
	root.PersistentFlags().String("log-level", "", "Log level: ERROR, WARN, INFO, DEBUG or TRACE")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newLanguagesCmd(),
		newServeCmd(),
		newMCPCmd(),
		newSandboxCmd(),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadConfig loads the layered configuration and applies the logging
// flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		cfg.Logging.Format = f
	}
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		cfg.Logging.Level = strings.ToUpper(l)
	}
	app.SetupLogging(cfg.Logging)
	return cfg, nil
}

func newEngine(cfg *config.Config) (*engine.Engine, func() error, error) {
	return app.NewEngine(cfg, slog.Default(), engineOptions...)
}
