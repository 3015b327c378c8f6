package workflow

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/gantry/internal/model"
)

// Workflow is the root of a parsed workflow file.
//
// Job declaration order is preserved separately from the Jobs map because
// scheduling and display must be deterministic: YAML mappings carry an
// order, Go maps do not.
type Workflow struct {
	// Name is the display name of the workflow. Defaults to the file
	// name (without extension) when omitted.
	Name string

	// On declares which events trigger this workflow.
	On Triggers

	// Env is the workflow-level environment, inherited by every job.
	Env map[string]string

	// Jobs maps job identifiers to their definitions.
	Jobs map[string]*Job

	// Path is the file the workflow was loaded from. Set by Load.
	Path string

	jobOrder []string
}

// JobNames returns job identifiers in declaration order.
func (w *Workflow) JobNames() []string {
	return w.jobOrder
}

// UnmarshalYAML decodes the top-level workflow mapping by walking the
// YAML node tree directly instead of relying on struct tags.
//
// This is deliberate: in YAML 1.1 the bare key "on" resolves to the
// boolean true, so tag-based decoding cannot see the trigger section.
// Walking node.Content and matching on the key's literal text sidesteps
// the whole problem, and also lets us record job declaration order.
func (w *Workflow) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow root must be a mapping, got %s", kindName(node.Kind))
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		switch key {
		case "name":
			w.Name = val.Value

		case "on":
			if err := val.Decode(&w.On); err != nil {
				return fmt.Errorf("on: %w", err)
			}

		case "env":
			if err := val.Decode(&w.Env); err != nil {
				return fmt.Errorf("env: %w", err)
			}

		case "jobs":
			if err := w.decodeJobs(val); err != nil {
				return err
			}

		default:
			// Unknown top-level keys are ignored so workflow files
			// written for richer platforms still load.
		}
	}

	return nil
}

// decodeJobs walks the jobs mapping, decoding each job definition and
// recording the declaration order.
func (w *Workflow) decodeJobs(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("jobs must be a mapping, got %s", kindName(node.Kind))
	}

	w.Jobs = make(map[string]*Job, len(node.Content)/2)
	w.jobOrder = make([]string, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value

		var job Job
		if err := node.Content[i+1].Decode(&job); err != nil {
			return fmt.Errorf("job %q: %w", id, err)
		}
		job.ID = id

		if _, exists := w.Jobs[id]; exists {
			return fmt.Errorf("job %q: duplicate job identifier", id)
		}
		w.Jobs[id] = &job
		w.jobOrder = append(w.jobOrder, id)
	}

	return nil
}

// Job is a single unit of the workflow's dependency graph. A job with a
// matrix strategy expands into one cell per combination; cells share the
// job definition but receive their own matrix context.
type Job struct {
	// ID is the mapping key the job was declared under ("test",
	// "publish"). Set by the workflow decoder, not from job fields.
	ID string `yaml:"-"`

	// Name is an optional display name. Defaults to ID.
	Name string `yaml:"name"`

	// If is the condition gating the whole job, evaluated against the
	// event context before any cell starts. Empty means always run
	// (provided prerequisites succeeded).
	If string `yaml:"if"`

	// Needs lists job IDs that must conclude successfully before this
	// job is scheduled. Accepts a single string or a list in YAML.
	Needs StringList `yaml:"needs"`

	// Env is the job-level environment, layered over the workflow env.
	Env map[string]string `yaml:"env"`

	// Environment names the deployment environment this job targets
	// (e.g. "release"). Exposed to steps as GANTRY_ENVIRONMENT and to
	// conditions as job.environment. Accepts a string or {name: ...}.
	Environment EnvironmentSpec `yaml:"environment"`

	// Permissions declares token scopes. The only scope gantry acts on
	// is "id-token": when set to "write", steps receive a short-lived
	// signed identity token in GANTRY_ID_TOKEN.
	Permissions map[string]string `yaml:"permissions"`

	// Container, when set, runs every step of the job inside a Docker
	// container created from the given image. Accepts a bare image
	// string or a mapping with image/env keys.
	Container *ContainerSpec `yaml:"container"`

	// Services declares sidecar containers (databases, brokers) started
	// before the job's steps and torn down afterwards.
	Services map[string]*ServiceSpec `yaml:"services"`

	// Strategy holds the matrix configuration, if any.
	Strategy *Strategy `yaml:"strategy"`

	// Steps are executed sequentially within each cell.
	Steps []*Step `yaml:"steps"`
}

// DisplayName returns Name if set, otherwise the job ID.
func (j *Job) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// WantsIDToken reports whether the job declared "id-token: write" in its
// permissions block.
func (j *Job) WantsIDToken() bool {
	return j.Permissions["id-token"] == "write"
}

// Step is a single command within a job.
type Step struct {
	// Name is an optional display name. Defaults to the run command.
	Name string `yaml:"name"`

	// If gates the step. Evaluated with the matrix context available.
	If string `yaml:"if"`

	// Run is the shell command to execute. Required.
	Run string `yaml:"run"`

	// Shell overrides the shell for this step ("sh", "bash", ...).
	Shell string `yaml:"shell"`

	// Env is the step-level environment, layered over the job env.
	Env map[string]string `yaml:"env"`

	// WorkingDirectory is resolved relative to the repository root.
	WorkingDirectory string `yaml:"working-directory"`
}

// DisplayName returns Name if set, otherwise the run command.
func (s *Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Run
}

// Strategy configures matrix expansion for a job.
type Strategy struct {
	// Matrix declares the axes and include/exclude adjustments.
	Matrix *Matrix `yaml:"matrix"`

	// FailFast controls whether a failing cell cancels its siblings.
	// Defaults to true when omitted, matching hosted platforms; the
	// canonical test workflow sets it to false so every version target
	// reports independently.
	FailFast *bool `yaml:"fail-fast"`

	// MaxParallel caps how many cells run concurrently. Zero means
	// the runner's default.
	MaxParallel int `yaml:"max-parallel"`
}

// FailFastEnabled resolves the FailFast pointer to its effective value.
func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// EnvironmentSpec is the deployment environment of a job. In YAML it may
// be a bare string or a mapping with a "name" key.
type EnvironmentSpec struct {
	Name string
}

// UnmarshalYAML accepts both the scalar and mapping forms.
func (e *EnvironmentSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		e.Name = node.Value
		return nil
	case yaml.MappingNode:
		var aux struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&aux); err != nil {
			return err
		}
		e.Name = aux.Name
		return nil
	default:
		return fmt.Errorf("environment must be a string or a mapping, got %s", kindName(node.Kind))
	}
}

// ContainerSpec configures the container a job's steps run in. In YAML
// it may be a bare image string or a mapping.
type ContainerSpec struct {
	// Image is the container image reference. Required.
	Image string `yaml:"image"`

	// Env is injected into the container at creation time.
	Env map[string]string `yaml:"env"`
}

// UnmarshalYAML accepts both the scalar and mapping forms.
func (c *ContainerSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		c.Image = node.Value
		return nil
	case yaml.MappingNode:
		// A local alias type drops the UnmarshalYAML method, avoiding
		// infinite recursion while reusing the field tags.
		type plain ContainerSpec
		var aux plain
		if err := node.Decode(&aux); err != nil {
			return err
		}
		*c = ContainerSpec(aux)
		return nil
	default:
		return fmt.Errorf("container must be a string or a mapping, got %s", kindName(node.Kind))
	}
}

// ServiceSpec configures a sidecar container for a job.
type ServiceSpec struct {
	// Image is the container image reference. Required.
	Image string `yaml:"image"`

	// Env is injected into the service container.
	Env map[string]string `yaml:"env"`

	// Ports lists publications as "host:container" or bare container
	// ports. Host ports are subject to collision-free reallocation.
	Ports StringList `yaml:"ports"`
}

// StringList is a []string that also accepts a single scalar in YAML,
// so "needs: test" and "needs: [test]" are equivalent.
type StringList []string

// UnmarshalYAML accepts a scalar or a sequence of scalars. Values are
// taken from the raw node text so unquoted numbers ("3.10") survive as
// the string the author wrote.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = StringList{node.Value}
		return nil
	case yaml.SequenceNode:
		out := make(StringList, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("expected scalar list items, got %s", kindName(item.Kind))
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("expected a string or a list of strings, got %s", kindName(node.Kind))
	}
}

// kindName renders a yaml.Kind for error messages.
func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// Load reads and parses a workflow file.
//
// Returns a CLIError with ExitWorkflowNotFound if the file does not
// exist, and ExitValidationFailed if the YAML cannot be decoded. Schema
// checks beyond decoding live in Validate.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitWorkflowNotFound,
				fmt.Sprintf("workflow file not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, model.WrapCLIError(
			model.ExitValidationFailed,
			fmt.Sprintf("failed to parse workflow file %s", path),
			err,
		)
	}

	wf.Path = path
	if wf.Name == "" {
		base := filepath.Base(path)
		wf.Name = base[:len(base)-len(filepath.Ext(base))]
	}

	if err := Validate(&wf); err != nil {
		return nil, model.WrapCLIError(
			model.ExitValidationFailed,
			fmt.Sprintf("invalid workflow file %s", path),
			err,
		)
	}

	return &wf, nil
}

// Find searches for a workflow file in the standard locations within a
// repository directory.
//
// The search order is:
//  1. <dir>/.gantry/workflow.yml (preferred)
//  2. <dir>/.gantry/workflow.yaml
//  3. <dir>/gantry.yml (convenience for simple projects)
//
// Returns the path to the first file found, or a CLIError with
// ExitWorkflowNotFound if none exists.
func Find(dir string) (string, error) {
	candidates := []string{
		filepath.Join(dir, ".gantry", "workflow.yml"),
		filepath.Join(dir, ".gantry", "workflow.yaml"),
		filepath.Join(dir, "gantry.yml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", model.NewCLIError(
		model.ExitWorkflowNotFound,
		fmt.Sprintf("no workflow file found in %s (searched .gantry/workflow.yml, .gantry/workflow.yaml, gantry.yml)", dir),
	)
}
