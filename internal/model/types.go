package model

import (
	"fmt"
	"regexp"
	"strings"
)

// Conclusion represents the terminal outcome of a run, job, matrix cell,
// or step. The lifecycle is:
//
//	[Queued] → Running → Success | Failure | Skipped | Cancelled
//
// Skipped covers jobs whose condition evaluated false or whose
// prerequisites did not succeed. Cancelled covers matrix cells stopped
// by fail-fast after a sibling cell failed.
type Conclusion string

const (
	// ConclusionSuccess indicates every executed unit exited zero.
	ConclusionSuccess Conclusion = "success"

	// ConclusionFailure indicates at least one step exited non-zero
	// or could not be started.
	ConclusionFailure Conclusion = "failure"

	// ConclusionSkipped indicates the unit never ran: its condition was
	// false, a prerequisite failed, or the trigger did not match.
	ConclusionSkipped Conclusion = "skipped"

	// ConclusionCancelled indicates execution was interrupted, typically
	// by fail-fast cancellation or a context cancellation (Ctrl-C).
	ConclusionCancelled Conclusion = "cancelled"
)

// String returns the string representation of Conclusion.
// This method satisfies the fmt.Stringer interface, enabling
// human-readable output in CLI commands.
func (c Conclusion) String() string {
	return string(c)
}

// IsValid checks whether the Conclusion value is one of the
// predefined terminal outcomes.
func (c Conclusion) IsValid() bool {
	switch c {
	case ConclusionSuccess, ConclusionFailure, ConclusionSkipped, ConclusionCancelled:
		return true
	default:
		return false
	}
}

// ParseConclusion converts a string to a Conclusion.
// Returns an error if the string does not match any valid outcome.
func ParseConclusion(s string) (Conclusion, error) {
	c := Conclusion(strings.ToLower(s))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid conclusion: %q (valid: success, failure, skipped, cancelled)", s)
	}
	return c, nil
}

// Event names accepted by trigger evaluation. These mirror the event
// types a hosted platform would deliver; gantry synthesizes them from
// CLI flags or the local git checkout.
const (
	// EventPush is a push to a branch or a tag.
	EventPush = "push"

	// EventPullRequest is a pull request opened against a base branch.
	EventPullRequest = "pull_request"
)

// Event is the triggering event a workflow run is evaluated against.
//
// For push events, Ref is the full reference that was pushed
// ("refs/heads/main" or "refs/tags/v1.2.3"). For pull_request events,
// Ref is the head reference and BaseRef is the branch the pull request
// targets, which is what branch filters match against.
type Event struct {
	// Name is the event type: "push" or "pull_request".
	Name string `json:"name"`

	// Ref is the full git reference, e.g. "refs/heads/main" or
	// "refs/tags/v1.2.3".
	Ref string `json:"ref"`

	// SHA is the commit the event points at. May be empty for
	// synthetic events constructed purely from flags.
	SHA string `json:"sha,omitempty"`

	// BaseRef is the target branch of a pull request (short name,
	// e.g. "main"). Empty for push events.
	BaseRef string `json:"baseRef,omitempty"`
}

// refs/heads/ and refs/tags/ are the two reference namespaces gantry
// distinguishes. Anything else (refs/notes/, raw SHAs) is treated as
// neither branch nor tag.
const (
	branchRefPrefix = "refs/heads/"
	tagRefPrefix    = "refs/tags/"
)

// IsTag reports whether the event's ref points into the tag namespace.
// This is the predicate behind publish gates of the form
// contains(github.ref, 'refs/tags/').
func (e Event) IsTag() bool {
	return strings.HasPrefix(e.Ref, tagRefPrefix)
}

// IsBranch reports whether the event's ref points into the branch namespace.
func (e Event) IsBranch() bool {
	return strings.HasPrefix(e.Ref, branchRefPrefix)
}

// Branch returns the short branch name ("main" for "refs/heads/main"),
// or the empty string if the ref is not a branch ref.
func (e Event) Branch() string {
	if !e.IsBranch() {
		return ""
	}
	return strings.TrimPrefix(e.Ref, branchRefPrefix)
}

// Tag returns the short tag name ("v1.2.3" for "refs/tags/v1.2.3"),
// or the empty string if the ref is not a tag ref.
func (e Event) Tag() string {
	if !e.IsTag() {
		return ""
	}
	return strings.TrimPrefix(e.Ref, tagRefPrefix)
}

// Validate checks that the event has a known name and a plausible ref.
func (e Event) Validate() error {
	switch e.Name {
	case EventPush, EventPullRequest:
	default:
		return fmt.Errorf("invalid event name: %q (valid: push, pull_request)", e.Name)
	}
	if e.Ref == "" {
		return fmt.Errorf("event ref must not be empty")
	}
	if e.Name == EventPullRequest && e.BaseRef == "" {
		return fmt.Errorf("pull_request event requires a base branch")
	}
	return nil
}

// BranchRef builds a full branch reference from a short branch name.
func BranchRef(branch string) string {
	return branchRefPrefix + branch
}

// TagRef builds a full tag reference from a short tag name.
func TagRef(tag string) string {
	return tagRefPrefix + tag
}

// jobNameRegex validates job and workflow identifiers: they must start
// with a letter or underscore and contain only alphanumerics, hyphens,
// and underscores. This matches the identifier rules of hosted platforms
// so workflow files remain portable.
var jobNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// ValidateJobName checks if the given name is a valid job identifier.
func ValidateJobName(name string) error {
	if name == "" {
		return fmt.Errorf("job name must not be empty")
	}
	if !jobNameRegex.MatchString(name) {
		return fmt.Errorf("invalid job name %q: must start with a letter or underscore and contain only alphanumerics, hyphens, and underscores", name)
	}
	return nil
}

// ExitCode defines standard CLI exit codes. These codes allow scripts
// and outer CI systems to programmatically determine the outcome of a
// gantry invocation.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitWorkflowNotFound indicates no workflow file was found
	// in the expected locations.
	ExitWorkflowNotFound ExitCode = 2

	// ExitDockerNotRunning indicates the Docker daemon is not accessible
	// while a job required container execution.
	ExitDockerNotRunning ExitCode = 3

	// ExitValidationFailed indicates the workflow file is malformed:
	// schema errors, unknown needs targets, dependency cycles, or
	// unparsable conditions.
	ExitValidationFailed ExitCode = 4

	// ExitGitError indicates a git operation needed to synthesize the
	// default event failed.
	ExitGitError ExitCode = 5

	// ExitRunFailed indicates the run executed and at least one job
	// concluded in failure.
	ExitRunFailed ExitCode = 6

	// ExitTriggerMismatch indicates the event did not match the
	// workflow's trigger rules, so nothing ran.
	ExitTriggerMismatch ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
