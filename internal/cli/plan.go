// Package cli — plan.go implements the "gantry plan" command.
//
// Plan is the dry run: it evaluates the trigger decision and the
// schedule (levels, needs, matrix cells) for an event without starting
// a single process. Useful for answering "would a tag push publish?"
// before pushing the tag.
package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/runner"
)

// planFlags holds the flag values for the plan command.
type planFlags struct {
	eventFlags

	// workflowPath overrides the workflow file search.
	workflowPath string
}

// NewPlanCommand creates the "plan" cobra command.
func NewPlanCommand() *cobra.Command {
	flags := &planFlags{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would do, without running anything",
		Long: `Evaluate the workflow's triggers and schedule for an event and print
the result: whether the event matches, which jobs would run at which
level, and the matrix cells of each.

Examples:
  gantry plan
  gantry plan --event push --ref refs/tags/v1.2.0
  gantry plan --event pull_request --base-ref main --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(flags)
		},
	}

	registerEventFlags(cmd, &flags.eventFlags)
	cmd.Flags().StringVarP(&flags.workflowPath, "file", "f", "",
		"Workflow file (default: .gantry/workflow.yml)")

	return cmd
}

// runPlan is the main logic function for the plan command.
func runPlan(flags *planFlags) error {
	repoDir, _, wf, err := loadContext(flags.workflowPath)
	if err != nil {
		return err
	}

	event, err := resolveEvent(&flags.eventFlags, repoDir)
	if err != nil {
		return err
	}

	plan, err := runner.BuildPlan(wf, event)
	if err != nil {
		return err
	}

	printPlan(plan)
	return nil
}

// printPlan outputs the plan in text or JSON format, depending on the
// global --json flag.
func printPlan(plan *runner.Plan) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(plan, "", "  ")
		fmt.Println(string(data))
		return
	}

	if !plan.TriggerMatched {
		fmt.Printf("Workflow %q would not run: %s\n", plan.Workflow, plan.TriggerReason)
		return
	}

	fmt.Printf("Workflow %q would run for %s %s\n", plan.Workflow, plan.Event.Name, plan.Event.Ref)
	for _, job := range plan.Jobs {
		fmt.Printf("  [level %d] %s", job.Level, job.Job)
		if len(job.Needs) > 0 {
			fmt.Printf(" (needs: %s)", strings.Join(job.Needs, ", "))
		}
		if job.Condition != "" {
			fmt.Printf(" if %s", job.Condition)
		}
		fmt.Println()

		for _, cell := range job.Cells {
			if cell == "" {
				continue
			}
			fmt.Printf("    - %s\n", cell)
		}
	}
}
