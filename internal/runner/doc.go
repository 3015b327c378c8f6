// Package runner executes workflow runs: trigger checking, matrix
// expansion, dependency-ordered scheduling, step execution on the host
// or in Docker containers, and identity-token issuance for jobs with
// the id-token permission.
//
// The runner owns all side effects. The workflow and expr packages it
// builds on are pure, which keeps scheduling decisions testable without
// ever starting a process.
package runner
