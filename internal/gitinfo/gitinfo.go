package gitinfo

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/mmr-tortoise/gantry/internal/model"
)

// Reader answers git metadata queries for a repository directory.
//
// The struct is stateless; it exists as a receiver so a custom git
// binary path can be added later without changing call sites.
type Reader struct{}

// NewReader creates a new Reader.
func NewReader() *Reader {
	return &Reader{}
}

// git runs a git subcommand in dir and returns its trimmed stdout.
// Failures are wrapped in a CLIError with ExitGitError and include the
// combined output, which is where git puts its useful diagnostics.
func (r *Reader) git(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitGitError,
			fmt.Sprintf("git %s failed: %s", strings.Join(args, " "), strings.TrimSpace(string(output))),
			err,
		)
	}
	return strings.TrimSpace(string(output)), nil
}

// RepoRoot returns the top-level directory of the repository containing dir.
func (r *Reader) RepoRoot(dir string) (string, error) {
	return r.git(dir, "rev-parse", "--show-toplevel")
}

// HeadSHA returns the commit hash HEAD points at.
func (r *Reader) HeadSHA(dir string) (string, error) {
	return r.git(dir, "rev-parse", "HEAD")
}

// CurrentBranch returns the short name of the checked-out branch, or an
// empty string for a detached HEAD.
func (r *Reader) CurrentBranch(dir string) (string, error) {
	out, err := r.git(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		// rev-parse prints the literal "HEAD" when detached.
		return "", nil
	}
	return out, nil
}

// TagAtHead returns the tag pointing exactly at HEAD, or an empty string
// if HEAD is not tagged. When several tags point at HEAD, the first in
// git's output order is returned.
func (r *Reader) TagAtHead(dir string) (string, error) {
	cmd := exec.Command("git", "tag", "--points-at", "HEAD")
	cmd.Dir = dir

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", model.WrapCLIError(
			model.ExitGitError,
			fmt.Sprintf("git tag --points-at HEAD failed: %s", strings.TrimSpace(string(output))),
			err,
		)
	}

	tags := strings.Fields(strings.TrimSpace(string(output)))
	if len(tags) == 0 {
		return "", nil
	}
	return tags[0], nil
}

// DefaultEvent synthesizes the push event a hosted platform would have
// delivered for the current checkout: a tag push when HEAD carries a
// tag, otherwise a branch push on the current branch.
//
// A detached HEAD with no tag cannot be mapped to a ref; that is an
// error rather than a guess, because trigger filters match on refs.
func (r *Reader) DefaultEvent(dir string) (model.Event, error) {
	sha, err := r.HeadSHA(dir)
	if err != nil {
		return model.Event{}, err
	}

	tag, err := r.TagAtHead(dir)
	if err != nil {
		return model.Event{}, err
	}
	if tag != "" {
		return model.Event{Name: model.EventPush, Ref: model.TagRef(tag), SHA: sha}, nil
	}

	branch, err := r.CurrentBranch(dir)
	if err != nil {
		return model.Event{}, err
	}
	if branch == "" {
		return model.Event{}, model.NewCLIError(
			model.ExitGitError,
			"HEAD is detached and untagged; pass --ref to choose the event reference",
		)
	}
	return model.Event{Name: model.EventPush, Ref: model.BranchRef(branch), SHA: sha}, nil
}
