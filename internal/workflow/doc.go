// Package workflow defines the workflow file schema and its static
// semantics: YAML loading, file discovery, schema validation, matrix
// expansion, the job dependency graph, and trigger matching.
//
// Everything in this package is pure — no processes are started and no
// Docker calls are made. The runner package consumes the structures
// produced here to actually execute a run.
package workflow
