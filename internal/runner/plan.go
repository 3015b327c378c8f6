package runner

import (
	"github.com/mmr-tortoise/gantry/internal/model"
	"github.com/mmr-tortoise/gantry/internal/workflow"
)

// Plan describes what a run would do without executing anything: the
// trigger decision, and per job its matrix cells, prerequisites, and
// scheduling level. It is the structure behind "gantry plan --json".
type Plan struct {
	// Workflow is the workflow's display name.
	Workflow string `json:"workflow"`

	// Event is the event the plan was evaluated against.
	Event model.Event `json:"event"`

	// TriggerMatched reports whether the event would start a run.
	TriggerMatched bool `json:"triggerMatched"`

	// TriggerReason explains the trigger decision in prose.
	TriggerReason string `json:"triggerReason"`

	// Jobs lists every job in scheduling order. Empty when the trigger
	// does not match.
	Jobs []JobPlan `json:"jobs,omitempty"`
}

// JobPlan describes how one job would be scheduled.
type JobPlan struct {
	// Job is the job ID from the workflow file.
	Job string `json:"job"`

	// Needs lists the job's prerequisites, in declaration order.
	Needs []string `json:"needs,omitempty"`

	// Level is the job's position in the dependency ordering; all jobs
	// of a level run concurrently once the previous level finishes.
	Level int `json:"level"`

	// Cells lists the labels of the matrix cells that would run. A job
	// without a matrix has a single empty label.
	Cells []string `json:"cells"`

	// Condition is the job's if expression, verbatim. It is not
	// evaluated here: planning stays side-effect free and a condition
	// may reference contexts (like matrix values) only a run has.
	Condition string `json:"condition,omitempty"`
}

// BuildPlan evaluates triggers and scheduling for the given event
// without running anything.
func BuildPlan(wf *workflow.Workflow, event model.Event) (*Plan, error) {
	if err := event.Validate(); err != nil {
		return nil, model.WrapCLIError(model.ExitGeneralError, "invalid event", err)
	}

	plan := &Plan{Workflow: wf.Name, Event: event}
	plan.TriggerMatched, plan.TriggerReason = wf.On.Matches(event)
	if !plan.TriggerMatched {
		return plan, nil
	}

	graph, err := workflow.BuildGraph(wf)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitValidationFailed, "cannot schedule workflow", err)
	}

	for level, ids := range graph.Levels() {
		for _, id := range ids {
			job := wf.Jobs[id]

			var matrix *workflow.Matrix
			if job.Strategy != nil {
				matrix = job.Strategy.Matrix
			}
			cells := matrix.Expand()
			axisNames := matrix.AxisNames()

			labels := make([]string, len(cells))
			for i, cell := range cells {
				labels[i] = cell.Label(axisNames)
			}

			plan.Jobs = append(plan.Jobs, JobPlan{
				Job:       id,
				Needs:     graph.Needs(id),
				Level:     level,
				Cells:     labels,
				Condition: job.If,
			})
		}
	}

	return plan, nil
}
