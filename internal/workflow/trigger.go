package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/gantry/internal/model"
)

// Triggers declares which events activate a workflow.
//
// A nil filter means the event type is not listened for at all; a
// non-nil but empty filter means every event of that type matches.
// The distinction matters: "on: push" must match all pushes, while a
// workflow without a push section must match none.
type Triggers struct {
	// Push matches pushes to branches and tags.
	Push *RefFilter

	// PullRequest matches pull requests by their base branch.
	PullRequest *RefFilter
}

// RefFilter narrows an event type by reference patterns.
//
// Patterns use glob syntax: "*" matches within a path segment, "**"
// matches across segments, "?" matches a single character. Patterns are
// matched against short names ("main", "v1.2.3"), not full refs.
type RefFilter struct {
	// Branches restricts matching to the listed branch patterns.
	Branches StringList `yaml:"branches"`

	// Tags restricts matching to the listed tag patterns.
	Tags StringList `yaml:"tags"`
}

// UnmarshalYAML accepts the three trigger shapes found in workflow files:
//
//	on: push                      (single scalar)
//	on: [push, pull_request]      (sequence)
//	on:                           (mapping with per-event filters)
//	  push: {branches: [main], tags: ["v*"]}
//	  pull_request:
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return t.enable(node.Value, nil)

	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("trigger list items must be event names, got %s", kindName(item.Kind))
			}
			if err := t.enable(item.Value, nil); err != nil {
				return err
			}
		}
		return nil

	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			name := node.Content[i].Value
			val := node.Content[i+1]

			filter := &RefFilter{}
			// A null value ("push:" with nothing under it) keeps the
			// empty filter, which matches every event of the type.
			if val.Kind != 0 && val.Tag != "!!null" {
				if err := val.Decode(filter); err != nil {
					return fmt.Errorf("trigger %q: %w", name, err)
				}
			}
			if err := t.enable(name, filter); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("on must be an event name, a list, or a mapping, got %s", kindName(node.Kind))
	}
}

// enable registers a single event type with its filter.
func (t *Triggers) enable(event string, filter *RefFilter) error {
	if filter == nil {
		filter = &RefFilter{}
	}
	switch event {
	case model.EventPush:
		t.Push = filter
	case model.EventPullRequest:
		t.PullRequest = filter
	default:
		return fmt.Errorf("unknown trigger event %q (valid: push, pull_request)", event)
	}
	return nil
}

// Matches evaluates the trigger rules against an event. The returned
// reason is a human-readable explanation used by "gantry plan" and
// verbose output; it is informational only.
//
// Push semantics follow hosted platforms: a filter that lists only
// branch patterns does not match tag pushes, and a filter that lists
// only tag patterns does not match branch pushes. An empty push filter
// matches every push. Pull requests match against the base branch.
func (t Triggers) Matches(e model.Event) (bool, string) {
	switch e.Name {
	case model.EventPush:
		if t.Push == nil {
			return false, "workflow does not trigger on push"
		}
		return t.Push.matchesPush(e)

	case model.EventPullRequest:
		if t.PullRequest == nil {
			return false, "workflow does not trigger on pull_request"
		}
		if len(t.PullRequest.Branches) == 0 {
			return true, "pull_request matches (no branch filter)"
		}
		if matchAny(t.PullRequest.Branches, e.BaseRef) {
			return true, fmt.Sprintf("pull_request base %q matches branch filter", e.BaseRef)
		}
		return false, fmt.Sprintf("pull_request base %q does not match branch filter %v", e.BaseRef, t.PullRequest.Branches)

	default:
		return false, fmt.Sprintf("unknown event %q", e.Name)
	}
}

// matchesPush applies branch/tag filters to a push event.
func (f *RefFilter) matchesPush(e model.Event) (bool, string) {
	// No filters at all: every push matches, branch or tag.
	if len(f.Branches) == 0 && len(f.Tags) == 0 {
		return true, "push matches (no ref filter)"
	}

	switch {
	case e.IsTag():
		if len(f.Tags) == 0 {
			return false, fmt.Sprintf("tag push %q excluded: filter lists branches only", e.Tag())
		}
		if matchAny(f.Tags, e.Tag()) {
			return true, fmt.Sprintf("tag %q matches tag filter", e.Tag())
		}
		return false, fmt.Sprintf("tag %q does not match tag filter %v", e.Tag(), f.Tags)

	case e.IsBranch():
		if len(f.Branches) == 0 {
			return false, fmt.Sprintf("branch push %q excluded: filter lists tags only", e.Branch())
		}
		if matchAny(f.Branches, e.Branch()) {
			return true, fmt.Sprintf("branch %q matches branch filter", e.Branch())
		}
		return false, fmt.Sprintf("branch %q does not match branch filter %v", e.Branch(), f.Branches)

	default:
		return false, fmt.Sprintf("ref %q is neither a branch nor a tag", e.Ref)
	}
}

// matchAny reports whether the name matches at least one glob pattern.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if MatchPattern(p, name) {
			return true
		}
	}
	return false
}

// MatchPattern matches a single ref glob pattern against a short ref
// name. Supported metacharacters:
//
//	*   any run of characters except "/"
//	**  any run of characters including "/"
//	?   any single character except "/"
//
// Everything else matches literally. Malformed patterns never match.
func MatchPattern(pattern, name string) bool {
	re, err := globToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// globToRegexp compiles a ref glob into an anchored regular expression.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")

	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				sb.WriteString(".*")
				i++
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
