package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/app"
	"github.com/rhuss/polyrun/pkg/engine"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a polyglot source file",
		Long: `Execute every block of a polyglot source file in order.

Use "-" as FILE to read the source from stdin. Each block's output is
printed under a header naming its language and source line, followed by a
summary. The exit status is 1 when any block fails.`,
		Example: `  polyrun run pipeline.poly
  polyrun run --isolation docker --timeout 10s pipeline.poly
  cat pipeline.poly | polyrun run --json -`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	addRunConfigFlags(cmd)
	cmd.Flags().Duration("timeout", 0, "Per-block timeout (default from config: 30s)")
	cmd.Flags().Bool("continue-on-failure", false, "Keep running blocks after a failure")
	cmd.Flags().Bool("json", false, "Print the run summary as JSON")
	return cmd
}

// addRunConfigFlags registers the flags that shape a run plan.
func addRunConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("lang", nil, "Only run these languages (repeatable or comma-separated)")
	cmd.Flags().String("isolation", "", "Isolation backend: none, docker or remote (default from config)")
	cmd.Flags().Bool("no-consolidate", false, "Run every block separately instead of merging same-language blocks")
}

// runSetup loads configuration, applies the run flags and builds an
// engine. The returned function releases the engine's backend.
func runSetup(cmd *cobra.Command) (*engine.Engine, engine.RunConfig, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, engine.RunConfig{}, nil, err
	}
	if iso, _ := cmd.Flags().GetString("isolation"); iso != "" {
		cfg.Sandbox.Isolation = iso
		if err := cfg.Validate(); err != nil {
			return nil, engine.RunConfig{}, nil, err
		}
	}

	rc, err := app.RunConfig(cfg)
	if err != nil {
		return nil, engine.RunConfig{}, nil, err
	}
	applyRunFlags(cmd, &rc)

	e, closeFn, err := newEngine(cfg)
	if err != nil {
		return nil, engine.RunConfig{}, nil, err
	}
	return e, rc, closeFn, nil
}

// applyRunFlags overrides the configured run settings with the flags the
// user set explicitly.
func applyRunFlags(cmd *cobra.Command, rc *engine.RunConfig) {
	flags := cmd.Flags()
	if langs, _ := flags.GetStringSlice("lang"); len(langs) > 0 {
		rc.Languages = langs
	}
	if noConsolidate, _ := flags.GetBool("no-consolidate"); noConsolidate {
		rc.Consolidate = false
	}
	if flags.Lookup("timeout") != nil && flags.Changed("timeout") {
		rc.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Lookup("continue-on-failure") != nil && flags.Changed("continue-on-failure") {
		rc.ContinueOnFailure, _ = flags.GetBool("continue-on-failure")
	}
}

// readSource reads the file at path, or stdin for "-".
func readSource(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	src, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}

	e, rc, closeFn, err := runSetup(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := e.Run(ctx, src, rc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(api.FromSummary(sum)); err != nil {
			return err
		}
	} else {
		printSummary(out, sum)
	}

	if !sum.Success {
		return errFailed
	}
	return nil
}

// printSummary writes each block's output under a header, then a one-line
// run summary.
func printSummary(w io.Writer, sum *engine.Summary) {
	for _, b := range sum.Blocks {
		fmt.Fprintf(w, "=== [%d] %s (line %d) ===\n", b.Index+1, b.Language, b.SourceLine)
		writeText(w, b.Stdout)
		writeText(w, b.Stderr)
		if len(b.MissingImports) > 0 {
			fmt.Fprintf(w, "warning: missing imports: %s\n", strings.Join(b.MissingImports, ", "))
		}
		if b.Fallback != "" {
			fmt.Fprintf(w, "warning: ran locally: %s\n", b.Fallback)
		}

		backend := ""
		if b.Backend != "" {
			backend = " [" + b.Backend + "]"
		}
		if b.Success {
			fmt.Fprintf(w, "--- %s in %s%s\n", b.Status, round(b.Duration), backend)
		} else {
			fmt.Fprintf(w, "--- %s: %s%s\n", b.Status, b.Error, backend)
		}
	}

	result := "succeeded"
	if !sum.Success {
		result = "failed"
	}
	fmt.Fprintf(w, "\nrun %s: %d blocks, %d executed, %d consolidated, %s\n",
		result, len(sum.Blocks), sum.BlocksExecuted, sum.BlocksConsolidated, round(sum.Duration))
	if sum.Aborted {
		fmt.Fprintln(w, "remaining blocks were skipped")
	}
}

func writeText(w io.Writer, s string) {
	if s == "" {
		return
	}
	fmt.Fprint(w, s)
	if !strings.HasSuffix(s, "\n") {
		fmt.Fprintln(w)
	}
}

func round(d time.Duration) time.Duration {
	if d > time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Microsecond)
}
