package docker

import (
	"fmt"
	"time"
)

// Label key constants define the Docker labels gantry attaches to every
// container it creates. The labels are the sole persistence mechanism
// for run state — there is no state file; "gantry ps" and "gantry clean"
// reconstruct everything from label queries.
//
// All keys share the "gantry." prefix to avoid collisions with labels
// set by other tools.
const (
	// LabelPrefix is the common prefix for all gantry labels.
	LabelPrefix = "gantry."

	// LabelManagedBy identifies containers created by gantry.
	// Key: "gantry.managed-by", value: always "gantry".
	LabelManagedBy = LabelPrefix + "managed-by"

	// ManagedByValue is the fixed value of LabelManagedBy.
	ManagedByValue = "gantry"

	// LabelRunID stores the run identifier all containers of one run share.
	LabelRunID = LabelPrefix + "run-id"

	// LabelWorkflow stores the workflow name.
	LabelWorkflow = LabelPrefix + "workflow"

	// LabelJob stores the job ID the container belongs to.
	LabelJob = LabelPrefix + "job"

	// LabelCell stores the matrix cell label ("3.8, ubuntu"), empty for
	// jobs without a matrix.
	LabelCell = LabelPrefix + "cell"

	// LabelKind distinguishes step containers from service sidecars.
	// Values: "job" or "service".
	LabelKind = LabelPrefix + "kind"

	// LabelService stores the service name for kind=service containers.
	LabelService = LabelPrefix + "service"

	// LabelCreatedAt stores the RFC3339 creation timestamp.
	LabelCreatedAt = LabelPrefix + "created-at"
)

// Container kinds stored under LabelKind.
const (
	KindJob     = "job"
	KindService = "service"
)

// RunLabels describes the metadata stamped onto one container.
type RunLabels struct {
	// RunID is the identifier shared by all containers of a run.
	RunID string

	// Workflow is the workflow's display name.
	Workflow string

	// Job is the job ID.
	Job string

	// Cell is the matrix cell label, empty without a matrix.
	Cell string

	// Kind is KindJob or KindService.
	Kind string

	// Service is the service name, only set for KindService.
	Service string

	// CreatedAt is when the container was created.
	CreatedAt time.Time
}

// ToMap renders the labels for container creation. The managed-by
// marker is always included so label filters find the container.
func (l RunLabels) ToMap() map[string]string {
	m := map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelRunID:     l.RunID,
		LabelWorkflow:  l.Workflow,
		LabelJob:       l.Job,
		LabelKind:      l.Kind,
		LabelCreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
	if l.Cell != "" {
		m[LabelCell] = l.Cell
	}
	if l.Service != "" {
		m[LabelService] = l.Service
	}
	return m
}

// ParseLabels reconstructs RunLabels from a container's label map.
// Returns an error if the container is not gantry-managed or required
// keys are missing, which indicates label tampering or a version skew.
func ParseLabels(labels map[string]string) (RunLabels, error) {
	if labels[LabelManagedBy] != ManagedByValue {
		return RunLabels{}, fmt.Errorf("container is not managed by gantry (missing %s label)", LabelManagedBy)
	}

	out := RunLabels{
		RunID:    labels[LabelRunID],
		Workflow: labels[LabelWorkflow],
		Job:      labels[LabelJob],
		Cell:     labels[LabelCell],
		Kind:     labels[LabelKind],
		Service:  labels[LabelService],
	}
	if out.RunID == "" {
		return RunLabels{}, fmt.Errorf("gantry container has no %s label", LabelRunID)
	}
	if out.Kind != KindJob && out.Kind != KindService {
		return RunLabels{}, fmt.Errorf("gantry container has invalid %s label %q", LabelKind, out.Kind)
	}

	if raw := labels[LabelCreatedAt]; raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return RunLabels{}, fmt.Errorf("invalid %s label %q: %w", LabelCreatedAt, raw, err)
		}
		out.CreatedAt = ts
	}

	return out, nil
}
