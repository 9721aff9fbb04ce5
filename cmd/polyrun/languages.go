package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rhuss/polyrun/pkg/api"
	"github.com/rhuss/polyrun/pkg/app"
)

func newLanguagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "languages",
		Short: "List registered languages and toolchain availability",
		Args:  cobra.NoArgs,
		RunE:  runLanguages,
	}
	cmd.Flags().Bool("json", false, "Print the list as JSON")
	return cmd
}

func runLanguages(cmd *cobra.Command, _ []string) error {
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

	langs := api.FromInfo(e.Registry(rc).Info(cmd.Context()))

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(langs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tALIASES\tTOOLCHAIN\tAVAILABLE\tVERSION")
	for _, l := range langs {
		name := l.Name
		if l.Plugin {
			name += " (plugin)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", name, strings.Join(l.Aliases, ","), l.Toolchain, l.Available, l.Version)
	}
	return tw.Flush()
}
