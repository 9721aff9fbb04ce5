package main

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rhuss/polyrun/pkg/sandbox"
)

func newSandboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Inspect and clean up the docker isolation backend",
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove leftover polyrun containers",
		Args:  cobra.NoArgs,
		RunE:  runSandboxPrune,
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Report docker daemon, language images and leftover containers",
		Args:  cobra.NoArgs,
		RunE:  runSandboxStatus,
	}
	status.Flags().Bool("json", false, "Print the status as JSON")

	cmd.AddCommand(prune, status)
	return cmd
}

func dockerBackend(cmd *cobra.Command) (*sandbox.Docker, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return sandbox.NewDocker(sandbox.DockerConfig{
		Host:        cfg.Sandbox.DockerHost,
		ImagePrefix: cfg.Sandbox.ImagePrefix,
		User:        cfg.Sandbox.User,
		Logger:      slog.Default(),
	})
}

func runSandboxPrune(cmd *cobra.Command, _ []string) error {
	d, err := dockerBackend(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	n, err := d.Prune(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d containers\n", n)
	return err
}

func runSandboxStatus(cmd *cobra.Command, _ []string) error {
	d, err := dockerBackend(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	st := d.Status(cmd.Context())
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return err
		}
	} else {
		if st.Available {
			fmt.Fprintf(out, "docker: available (server %s, api %s)\n", st.ServerVersion, st.APIVersion)
		} else {
			fmt.Fprintln(out, "docker: unavailable")
		}
		if st.Error != "" {
			fmt.Fprintf(out, "error: %s\n", st.Error)
		}
		for _, img := range st.Images {
			fmt.Fprintf(out, "image: %s (%s)\n", img.Reference, img.Size)
		}
		fmt.Fprintf(out, "leftover containers: %d\n", st.Leftover)
	}

	if !st.Available {
		return errFailed
	}
	return nil
}
