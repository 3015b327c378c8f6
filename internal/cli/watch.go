// Package cli — watch.go implements the "gantry watch" command.
//
// Watch reruns the workflow whenever the repository tree settles after
// a change. Runs never overlap: changes that arrive mid-run are
// coalesced and trigger one follow-up run when the current one ends.
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/runner"
	"github.com/mmr-tortoise/gantry/internal/watcher"
)

// watchFlags holds the flag values for the watch command.
type watchFlags struct {
	eventFlags

	// workflowPath overrides the workflow file search.
	workflowPath string

	// job restricts each rerun to a single job.
	job string

	// debounce is how long the tree must stay quiet before a rerun.
	debounce time.Duration
}

// NewWatchCommand creates the "watch" cobra command.
func NewWatchCommand() *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rerun the workflow on file changes",
		Long: `Watch the repository tree and rerun the workflow each time changes
settle. An initial run happens immediately. Ctrl-C stops watching.

Examples:
  gantry watch
  gantry watch --job test
  gantry watch --debounce 2s`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), flags)
		},
	}

	registerEventFlags(cmd, &flags.eventFlags)
	cmd.Flags().StringVarP(&flags.workflowPath, "file", "f", "",
		"Workflow file (default: .gantry/workflow.yml)")
	cmd.Flags().StringVar(&flags.job, "job", "",
		"Rerun only this job, ignoring its needs")
	cmd.Flags().DurationVar(&flags.debounce, "debounce", watcher.DefaultDebounce,
		"Quiet period before a change triggers a rerun")

	return cmd
}

// runWatch is the main logic function for the watch command.
func runWatch(ctx context.Context, flags *watchFlags) error {
	repoDir, s, wf, err := loadContext(flags.workflowPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A buffered single-slot channel coalesces changes that arrive
	// while a run is in flight into exactly one follow-up run.
	trigger := make(chan struct{}, 1)
	notify := func(paths []string) {
		VerboseLog("%d file(s) changed, scheduling rerun", len(paths))
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	w, err := watcher.New(repoDir, flags.debounce, notify)
	if err != nil {
		return err
	}
	go func() { _ = w.Run(ctx) }()

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", repoDir)

	r := runner.New(repoDir, s)
	r.Logf = VerboseLog

	// Initial run, then one run per settled change batch.
	for {
		// The workflow file itself may have changed between runs.
		_, _, wf, err = loadContext(flags.workflowPath)
		if err != nil {
			printError(err.Error(), nil)
		} else {
			event, evErr := resolveEvent(&flags.eventFlags, repoDir)
			if evErr != nil {
				printError(evErr.Error(), nil)
			} else if result, runErr := r.Run(ctx, wf, event, runner.Options{Job: flags.job}); runErr != nil {
				// A broken run should not stop watch mode; report and
				// wait for the next change.
				printError(runErr.Error(), nil)
			} else {
				printRunResult(result)
			}
		}

		select {
		case <-ctx.Done():
			fmt.Println("Stopped watching.")
			return nil
		case <-trigger:
		}
	}
}
