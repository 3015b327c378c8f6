// Package expr implements the condition language used in workflow "if"
// fields and the ${{ ... }} interpolation syntax used in run commands
// and environment values.
//
// The language is intentionally small: boolean operators (&&, ||, !),
// equality (==, !=), parentheses, single-quoted strings, numbers,
// booleans, dotted context lookups (github.ref, matrix.python, ...),
// and the string functions contains, startsWith, and endsWith. That is
// exactly enough to express publish gates such as
//
//	github.event_name == 'push' && contains(github.ref, 'refs/tags/')
//
// Parsing and evaluation are separate steps so validation can reject a
// malformed condition without an event in hand.
package expr
