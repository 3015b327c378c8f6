// Package cli — context.go holds the flag plumbing shared by the
// commands that evaluate a workflow against an event (run, plan,
// watch): locating the repository and workflow file, and building the
// event either from explicit flags or from the current git checkout.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/gantry/internal/gitinfo"
	"github.com/mmr-tortoise/gantry/internal/model"
	"github.com/mmr-tortoise/gantry/internal/settings"
	"github.com/mmr-tortoise/gantry/internal/workflow"
)

// eventFlags holds the event-selection flags shared by run, plan, and
// watch. All of them are optional; absent flags are filled in from the
// current git checkout.
type eventFlags struct {
	// event is the event name: "push" or "pull_request".
	event string

	// ref is the full git ref the event is about, e.g.
	// "refs/heads/main" or "refs/tags/v1.2.0". A bare name is
	// treated as a branch; "--event push --ref v1.2.0" needs the
	// refs/tags/ prefix spelled out to mean a tag push.
	ref string

	// sha is the commit the event points at.
	sha string

	// baseRef is the target branch of a pull_request event.
	baseRef string
}

// registerEventFlags binds the shared event flags onto a command.
func registerEventFlags(cmd *cobra.Command, flags *eventFlags) {
	cmd.Flags().StringVar(&flags.event, "event", "",
		"Event to simulate: push or pull_request (default: derived from the checkout)")
	cmd.Flags().StringVar(&flags.ref, "ref", "",
		"Git ref the event is about, e.g. refs/heads/main or refs/tags/v1.0.0")
	cmd.Flags().StringVar(&flags.sha, "sha", "",
		"Commit SHA the event points at (default: HEAD)")
	cmd.Flags().StringVar(&flags.baseRef, "base-ref", "",
		"Base branch for pull_request events (default: main)")
}

// resolveEvent builds the event to evaluate: explicit flags win, and
// anything left unspecified comes from the git checkout in repoDir.
func resolveEvent(flags *eventFlags, repoDir string) (model.Event, error) {
	git := gitinfo.NewReader()

	event, err := git.DefaultEvent(repoDir)
	if err != nil {
		// Without git metadata the flags must carry the whole event.
		if flags.event == "" || flags.ref == "" {
			return model.Event{}, err
		}
		event = model.Event{}
	}

	if flags.event != "" {
		event.Name = flags.event
	}
	if flags.ref != "" {
		event.Ref = normalizeRef(flags.ref)
	}
	if flags.sha != "" {
		event.SHA = flags.sha
	}

	if event.Name == model.EventPullRequest {
		// A PR event's ref is the source branch; the filter matching
		// happens against the base branch.
		event.BaseRef = flags.baseRef
		if event.BaseRef == "" {
			event.BaseRef = "main"
		}
	}

	if err := event.Validate(); err != nil {
		return model.Event{}, model.WrapCLIError(model.ExitValidationFailed, "invalid event flags", err)
	}
	return event, nil
}

// normalizeRef turns a bare name into a branch ref; full refs pass
// through untouched.
func normalizeRef(ref string) string {
	if strings.HasPrefix(ref, "refs/") {
		return ref
	}
	return model.BranchRef(ref)
}

// loadContext locates the repository root, its settings, and its
// workflow file. workflowPath may be empty, in which case the standard
// locations are searched.
func loadContext(workflowPath string) (repoDir string, s settings.Settings, wf *workflow.Workflow, err error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", settings.Settings{}, nil, fmt.Errorf("failed to determine working directory: %w", err)
	}

	// Prefer the git toplevel so gantry behaves the same from any
	// subdirectory; outside a repository the cwd itself is the root.
	repoDir = cwd
	if root, rootErr := gitinfo.NewReader().RepoRoot(cwd); rootErr == nil {
		repoDir = root
	}
	VerboseLog("Repository root: %s", repoDir)

	s, err = settings.Load(repoDir)
	if err != nil {
		return "", settings.Settings{}, nil, model.WrapCLIError(model.ExitValidationFailed, "failed to load settings", err)
	}

	if workflowPath == "" {
		workflowPath, err = workflow.Find(repoDir)
		if err != nil {
			return "", settings.Settings{}, nil, err
		}
	}
	VerboseLog("Workflow file: %s", workflowPath)

	wf, err = workflow.Load(workflowPath)
	if err != nil {
		return "", settings.Settings{}, nil, err
	}
	return repoDir, s, wf, nil
}
