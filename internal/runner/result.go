package runner

import (
	"time"

	"github.com/mmr-tortoise/gantry/internal/model"
	"github.com/mmr-tortoise/gantry/internal/workflow"
)

// RunResult is the complete outcome of one workflow run. It is the
// structure behind "gantry run --json".
type RunResult struct {
	// RunID uniquely identifies the run; container labels carry it.
	RunID string `json:"runId"`

	// Workflow is the workflow's display name.
	Workflow string `json:"workflow"`

	// Event is the event the run was evaluated against.
	Event model.Event `json:"event"`

	// TriggerMatched reports whether the event matched the workflow's
	// trigger rules. When false, no jobs ran and Jobs is empty.
	TriggerMatched bool `json:"triggerMatched"`

	// TriggerReason explains the trigger decision in prose.
	TriggerReason string `json:"triggerReason"`

	// Conclusion aggregates the job conclusions: failure if any job
	// failed, cancelled if any was cancelled (and none failed),
	// otherwise success. A trigger mismatch concludes skipped.
	Conclusion model.Conclusion `json:"conclusion"`

	// Jobs holds one entry per executed matrix cell, in scheduling
	// order.
	Jobs []JobResult `json:"jobs,omitempty"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"startedAt"`

	// Duration is the wall-clock time of the whole run.
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run should exit non-zero.
func (r *RunResult) Failed() bool {
	return r.Conclusion == model.ConclusionFailure || r.Conclusion == model.ConclusionCancelled
}

// JobResult is the outcome of a single matrix cell of a job. A job
// without a matrix produces exactly one JobResult with an empty cell.
type JobResult struct {
	// Job is the job ID from the workflow file.
	Job string `json:"job"`

	// Cell holds the matrix values of this cell; empty without a matrix.
	Cell workflow.Cell `json:"cell,omitempty"`

	// CellLabel is the display form of the cell ("3.8, ubuntu").
	CellLabel string `json:"cellLabel,omitempty"`

	// Conclusion is the terminal state of this cell.
	Conclusion model.Conclusion `json:"conclusion"`

	// Reason explains skips and cancellations in prose.
	Reason string `json:"reason,omitempty"`

	// Steps holds per-step results in execution order. Empty for
	// skipped cells.
	Steps []StepResult `json:"steps,omitempty"`

	// Duration is the wall-clock time of the cell.
	Duration time.Duration `json:"duration"`
}

// Display renders "job" or "job (cell)" for human output.
func (j JobResult) Display() string {
	if j.CellLabel == "" {
		return j.Job
	}
	return j.Job + " (" + j.CellLabel + ")"
}

// StepResult is the outcome of one step within a cell.
type StepResult struct {
	// Name is the step's display name.
	Name string `json:"name"`

	// Conclusion is the terminal state of the step.
	Conclusion model.Conclusion `json:"conclusion"`

	// ExitCode is the command's exit code; zero for skipped steps.
	ExitCode int `json:"exitCode"`

	// Output is the combined stdout and stderr of the command.
	Output string `json:"output,omitempty"`

	// Duration is the wall-clock time of the step.
	Duration time.Duration `json:"duration"`
}
