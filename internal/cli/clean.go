// Package cli — clean.go implements the "gantry clean" command.
//
// Clean removes containers left behind by interrupted runs. Normal runs
// tear their containers down themselves; clean exists for the Ctrl-C'd
// and the crashed. It targets one run with --run or everything with no
// flags, and --force skips the graceful stop.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/docker"
	"github.com/mmr-tortoise/gantry/internal/model"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// runID limits cleanup to one run's containers.
	runID string

	// force removes containers without a graceful stop first.
	force bool
}

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove containers left behind by interrupted runs",
		Long: `Remove all gantry-managed containers, or only those belonging to one
run.

Examples:
  gantry clean
  gantry clean --run 3fa8c21b90d4
  gantry clean --force`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run", "",
		"Only remove containers of this run ID")
	cmd.Flags().BoolVar(&flags.force, "force", false,
		"Kill containers instead of stopping them gracefully")

	return cmd
}

// runClean is the main logic function for the clean command.
func runClean(ctx context.Context, flags *cleanFlags) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}

	containers, err := docker.ListManaged(ctx, cli)
	if err != nil {
		return err
	}

	if flags.runID != "" {
		filtered := make([]docker.ContainerInfo, 0, len(containers))
		for _, c := range containers {
			if c.Labels[docker.LabelRunID] == flags.runID {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) == 0 {
			return model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("no containers found for run %q", flags.runID))
		}
		containers = filtered
	}

	removed := make([]string, 0, len(containers))
	for _, c := range containers {
		VerboseLog("Removing container %s (%s)", c.Name, c.ID[:12])

		if !flags.force && c.Status == "running" {
			if err := docker.StopContainer(ctx, cli, c.ID); err != nil {
				return err
			}
		}
		if err := docker.RemoveContainer(ctx, cli, c.ID, flags.force); err != nil {
			return err
		}
		removed = append(removed, c.Name)
	}

	printCleanResult(removed)
	return nil
}

// printCleanResult reports what was removed, in text or JSON format.
func printCleanResult(removed []string) {
	if IsJSONOutput() {
		result := map[string]interface{}{
			"removed": removed,
			"count":   len(removed),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(removed) == 0 {
		fmt.Println("Nothing to clean.")
		return
	}
	for _, name := range removed {
		fmt.Printf("Removed %s\n", name)
	}
	fmt.Printf("Removed %d container(s).\n", len(removed))
}
