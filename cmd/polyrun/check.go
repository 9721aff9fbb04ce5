package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rhuss/polyrun/pkg/engine"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Validate and security-scan a source without executing it",
		Long: `Parse, validate, consolidate and security-scan a polyglot source file.

Nothing is executed. The exit status is 1 when a block has no runner or is
rejected by the security check, and the error is printed when the source
itself is malformed.`,
		Args: cobra.ExactArgs(1),
		RunE: runCheck,
	}
	addRunConfigFlags(cmd)
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	src, err := readSource(cmd, args[0])
	if err != nil {
		return err
	}
	e, rc, closeFn, err := runSetup(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := e.Check(src, rc)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printCheck(out, rep)
	}

	if !rep.OK() {
		return errFailed
	}
	return nil
}

func printCheck(w io.Writer, rep *engine.CheckReport) {
	for _, u := range rep.Units {
		verdict := "ok"
		switch {
		case !u.Supported:
			verdict = "unsupported language"
		case !u.Verdict.Allowed:
			verdict = "rejected: " + u.Verdict.Reason
		}
		fmt.Fprintf(w, "[%d] %s (line %d): %s\n", u.Index+1, u.Language, u.SourceLine, verdict)
		if len(u.Imports) > 0 {
			fmt.Fprintf(w, "    imports: %s\n", strings.Join(u.Imports, ", "))
		}
		if len(u.Exports) > 0 {
			fmt.Fprintf(w, "    exports: %s\n", strings.Join(u.Exports, ", "))
		}
	}
	fmt.Fprintf(w, "\n%d blocks, %d after consolidation\n", rep.Blocks, len(rep.Units))
}
