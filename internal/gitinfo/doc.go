// Package gitinfo reads repository metadata via the git CLI.
//
// It exists so "gantry run" without --event/--ref flags can synthesize
// a realistic push event from the local checkout: the current branch,
// the HEAD commit, and (when HEAD is exactly tagged) the tag ref.
//
// We shell out to `git` rather than using a Go Git library because the
// needed queries are trivial plumbing commands and the git CLI is
// already a hard prerequisite of any repository gantry would run in.
package gitinfo
