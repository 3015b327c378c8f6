// Package cli — ps.go implements the "gantry ps" command.
//
// Ps lists the containers gantry has created, grouped by run. Job
// containers are removed when their cell finishes, so anything shown
// here is either an in-flight run or a leftover from an interrupted
// one — the latter is what "gantry clean" is for.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/docker"
)

// NewPsCommand creates the "ps" cobra command.
func NewPsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List containers created by gantry",
		Long: `List all containers carrying gantry's management label, including
stopped ones, grouped by run.

Examples:
  gantry ps
  gantry ps --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPs(cmd.Context())
		},
	}

	return cmd
}

// runPs is the main logic function for the ps command.
func runPs(ctx context.Context) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err // NewClient already returns CLIError with ExitDockerNotRunning
	}
	defer func() { _ = cli.Close() }()

	if err := cli.Ping(ctx); err != nil {
		return err
	}
	VerboseLog("Connected to Docker daemon")

	containers, err := docker.ListManaged(ctx, cli)
	if err != nil {
		return err
	}
	VerboseLog("Found %d managed containers", len(containers))

	printPsResult(containers)
	return nil
}

// printPsResult outputs the container list in text or JSON format,
// depending on the global --json flag.
func printPsResult(containers []docker.ContainerInfo) {
	if IsJSONOutput() {
		type resultJSON struct {
			Containers []docker.ContainerInfo `json:"containers"`
		}
		// Empty slice instead of nil so JSON output shows [] rather
		// than null when nothing is running.
		result := resultJSON{Containers: containers}
		if result.Containers == nil {
			result.Containers = []docker.ContainerInfo{}
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(containers) == 0 {
		fmt.Println("No gantry containers found.")
		return
	}

	groups := docker.GroupByRun(containers)
	runIDs := make([]string, 0, len(groups))
	for runID := range groups {
		runIDs = append(runIDs, runID)
	}
	sort.Strings(runIDs)

	fmt.Printf("%-14s %-12s %-10s %-8s %s\n",
		"RUN", "JOB", "KIND", "STATUS", "NAME")
	for _, runID := range runIDs {
		group := groups[runID]
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })

		for _, c := range group {
			labels, _ := docker.ParseLabels(c.Labels)
			fmt.Printf("%-14s %-12s %-10s %-8s %s\n",
				runID,
				labels.Job,
				labels.Kind,
				c.Status,
				c.Name,
			)
		}
	}
}
