// Package cli — run.go implements the "gantry run" command.
//
// Run is the main verb: it loads the workflow, resolves the event
// (explicit flags or the current checkout), and executes the matching
// jobs. The exit code distinguishes a failed run (a step failed) from a
// trigger mismatch (nothing would have run in CI either).
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/model"
	"github.com/mmr-tortoise/gantry/internal/runner"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	eventFlags

	// workflowPath overrides the workflow file search.
	workflowPath string

	// job restricts the run to a single job, ignoring its needs.
	job string

	// maxParallel caps concurrent matrix cells.
	maxParallel int
}

// NewRunCommand creates the "run" cobra command.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workflow for the current (or a simulated) event",
		Long: `Run the workflow jobs that match an event.

Without flags the event is derived from the checkout: a tag push when
HEAD carries a tag, otherwise a push on the current branch. The --event,
--ref, and --sha flags simulate other events, which is how a tag-gated
publish job is exercised before the tag exists.

Examples:
  gantry run
  gantry run --event push --ref refs/tags/v1.2.0
  gantry run --event pull_request --base-ref main
  gantry run --job test --max-parallel 2`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), flags)
		},
	}

	registerEventFlags(cmd, &flags.eventFlags)
	cmd.Flags().StringVarP(&flags.workflowPath, "file", "f", "",
		"Workflow file (default: .gantry/workflow.yml)")
	cmd.Flags().StringVar(&flags.job, "job", "",
		"Run only this job, ignoring its needs")
	cmd.Flags().IntVar(&flags.maxParallel, "max-parallel", 0,
		"Cap on concurrent matrix cells (0 = unbounded)")

	return cmd
}

// runRun is the main logic function for the run command.
func runRun(ctx context.Context, flags *runFlags) error {
	repoDir, s, wf, err := loadContext(flags.workflowPath)
	if err != nil {
		return err
	}

	event, err := resolveEvent(&flags.eventFlags, repoDir)
	if err != nil {
		return err
	}
	VerboseLog("Event: %s %s (%s)", event.Name, event.Ref, event.SHA)

	r := runner.New(repoDir, s)
	r.Logf = VerboseLog

	result, err := r.Run(ctx, wf, event, runner.Options{
		Job:         flags.job,
		MaxParallel: flags.maxParallel,
	})
	if err != nil {
		return err
	}

	printRunResult(result)

	// A mismatch is reported on stdout above; the distinct exit code is
	// for scripts that care whether anything ran.
	if !result.TriggerMatched {
		return model.NewCLIError(model.ExitTriggerMismatch, result.TriggerReason)
	}
	if result.Failed() {
		return model.NewCLIError(model.ExitRunFailed,
			fmt.Sprintf("run %s concluded %s", result.RunID, result.Conclusion))
	}
	return nil
}

// printRunResult outputs the run result in text or JSON format,
// depending on the global --json flag.
func printRunResult(result *runner.RunResult) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}
	printRunResultText(result)
}

// printRunResultText renders the run as a human-readable report: one
// line per cell with its steps indented beneath, then a summary line.
func printRunResultText(result *runner.RunResult) {
	if !result.TriggerMatched {
		fmt.Printf("Workflow %q not triggered: %s\n", result.Workflow, result.TriggerReason)
		return
	}

	fmt.Printf("Run %s — workflow %q, %s %s\n",
		result.RunID, result.Workflow, result.Event.Name, result.Event.Ref)

	for _, job := range result.Jobs {
		fmt.Printf("  %-9s %s", job.Conclusion, job.Display())
		if job.Reason != "" {
			fmt.Printf(" (%s)", job.Reason)
		}
		fmt.Println()

		for _, step := range job.Steps {
			fmt.Printf("    %-9s %s\n", step.Conclusion, step.Name)
			if step.Conclusion == model.ConclusionFailure && step.Output != "" {
				fmt.Print(indent(step.Output, "      "))
			}
		}
	}

	fmt.Printf("Conclusion: %s (%s)\n", result.Conclusion, result.Duration.Round(time.Millisecond))
}

// indent prefixes every line of s, ensuring a trailing newline.
func indent(s, prefix string) string {
	out := ""
	for _, line := range splitLines(s) {
		out += prefix + line + "\n"
	}
	return out
}

// splitLines splits on newlines, dropping a trailing empty element.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
