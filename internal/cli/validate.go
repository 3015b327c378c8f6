// Package cli — validate.go implements the "gantry validate" command.
//
// Validate loads the workflow file and checks everything that can be
// checked without an event: YAML structure, job identifiers, the needs
// graph, matrix shapes, and that every if expression parses. It is the
// pre-commit check for workflow edits.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/workflow"
)

// validateFlags holds the flag values for the validate command.
type validateFlags struct {
	// workflowPath overrides the workflow file search.
	workflowPath string
}

// NewValidateCommand creates the "validate" cobra command.
func NewValidateCommand() *cobra.Command {
	flags := &validateFlags{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the workflow file without running it",
		Long: `Parse the workflow file and verify its static structure: job names,
the needs graph (missing targets, cycles), matrix definitions, and the
syntax of every if expression.

Examples:
  gantry validate
  gantry validate -f ci.yml --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(flags)
		},
	}

	cmd.Flags().StringVarP(&flags.workflowPath, "file", "f", "",
		"Workflow file (default: .gantry/workflow.yml)")

	return cmd
}

// runValidate is the main logic function for the validate command.
//
// workflow.Load runs the full static validation (identifiers, the needs
// graph, matrix shapes, condition syntax), so reaching this point with a
// workflow in hand means the file is sound.
func runValidate(flags *validateFlags) error {
	_, _, wf, err := loadContext(flags.workflowPath)
	if err != nil {
		return err
	}

	printValidateResult(wf)
	return nil
}

// printValidateResult reports a successful validation.
func printValidateResult(wf *workflow.Workflow) {
	if IsJSONOutput() {
		result := map[string]interface{}{
			"valid":    true,
			"workflow": wf.Name,
			"jobs":     len(wf.Jobs),
		}
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("Workflow %q is valid (%d jobs).\n", wf.Name, len(wf.Jobs))
}
