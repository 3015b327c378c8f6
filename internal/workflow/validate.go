package workflow

import (
	"fmt"
	"strings"

	"github.com/mmr-tortoise/gantry/internal/expr"
	"github.com/mmr-tortoise/gantry/internal/model"
)

// permissionScopes are the values accepted in a permissions block.
var permissionScopes = map[string]bool{
	"read":  true,
	"write": true,
	"none":  true,
}

// Validate performs the static checks that Load's YAML decoding cannot:
// identifier rules, needs resolution, graph acyclicity, step and matrix
// shape, and condition parseability.
//
// All problems are collected before returning so a single run reports
// everything wrong with the file. The returned error is a CLIError with
// ExitValidationFailed listing one problem per line.
func Validate(wf *Workflow) error {
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(wf.Jobs) == 0 {
		report("workflow declares no jobs")
	}
	if wf.On.Push == nil && wf.On.PullRequest == nil {
		report("workflow declares no triggers (add an 'on' section)")
	}

	for _, id := range wf.JobNames() {
		job := wf.Jobs[id]

		if err := model.ValidateJobName(id); err != nil {
			report("%v", err)
		}

		if len(job.Steps) == 0 {
			report("job %q has no steps", id)
		}
		for i, step := range job.Steps {
			if strings.TrimSpace(step.Run) == "" {
				report("job %q step %d has no run command", id, i+1)
			}
			if step.If != "" {
				if _, err := expr.Parse(step.If); err != nil {
					report("job %q step %d: %v", id, i+1, err)
				}
			}
		}

		if job.If != "" {
			if _, err := expr.Parse(job.If); err != nil {
				report("job %q: %v", id, err)
			}
		}

		for scope, level := range job.Permissions {
			if !permissionScopes[level] {
				report("job %q: permission %q has invalid level %q (valid: read, write, none)", id, scope, level)
			}
		}

		// A container spec without an image is legal here: the runner
		// falls back to the settings file image, which static
		// validation cannot see.
		for name, svc := range job.Services {
			if svc == nil || svc.Image == "" {
				report("job %q: service %q requires an image", id, name)
			}
		}

		if job.Strategy != nil && job.Strategy.Matrix != nil {
			for _, axis := range job.Strategy.Matrix.Axes {
				if len(axis.Values) == 0 {
					report("job %q: matrix axis %q has no values", id, axis.Name)
				}
			}
			if job.Strategy.MaxParallel < 0 {
				report("job %q: max-parallel must not be negative", id)
			}
		}
	}

	// Needs resolution and cycle detection are delegated to BuildGraph,
	// but only when the jobs themselves are individually well-formed
	// enough for the graph to be meaningful.
	if _, err := BuildGraph(wf); err != nil {
		report("%v", err)
	}

	if len(problems) > 0 {
		return model.NewCLIError(
			model.ExitValidationFailed,
			fmt.Sprintf("workflow validation failed:\n  - %s", strings.Join(problems, "\n  - ")),
		)
	}
	return nil
}
