package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// interpolationPattern matches ${{ ... }} placeholders. The inner match
// is non-greedy so two placeholders on one line stay separate.
var interpolationPattern = regexp.MustCompile(`\$\{\{(.*?)\}\}`)

// Expand replaces every ${{ expression }} placeholder in s with the
// text rendering of the evaluated expression. Text outside placeholders
// passes through untouched, so shell syntax like ${HOME} is unaffected.
//
// A parse or evaluation error in any placeholder fails the whole
// expansion; callers treat that as a step failure rather than running a
// command with a half-expanded script.
func Expand(s string, ctx Context) (string, error) {
	matches := interpolationPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])

		src := strings.TrimSpace(s[m[2]:m[3]])
		e, err := Parse(src)
		if err != nil {
			return "", fmt.Errorf("interpolation ${{ %s }}: %w", src, err)
		}
		v, err := e.Eval(ctx)
		if err != nil {
			return "", fmt.Errorf("interpolation ${{ %s }}: %w", src, err)
		}
		sb.WriteString(v.Text())

		last = m[1]
	}
	sb.WriteString(s[last:])

	return sb.String(), nil
}

// ExpandMap applies Expand to every value of an environment map,
// returning a new map. A nil input yields a nil output.
func ExpandMap(env map[string]string, ctx Context) (map[string]string, error) {
	if env == nil {
		return nil, nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		expanded, err := Expand(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", k, err)
		}
		out[k] = expanded
	}
	return out, nil
}
