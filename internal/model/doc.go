// Package model defines the domain types shared across the gantry CLI.
//
// These types describe triggering events, job/step conclusions, and CLI
// exit codes. They are pure data with no behavior beyond validation and
// formatting, so every other package can depend on model without import
// cycles.
//
// Key design decision: container-side run state is persisted via Docker
// labels only (see internal/docker), so the types here are transient
// representations reconstructed from workflow files, CLI flags, and the
// Docker API at runtime.
package model
