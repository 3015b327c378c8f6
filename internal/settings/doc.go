// Package settings loads the optional runner-level configuration file.
//
// Unlike the workflow file (which is YAML and describes what to run),
// the settings file describes how this machine runs things: default
// shell, default container image, extra environment, and the default
// parallelism cap. The file is JSON with comments and trailing commas
// allowed (JSONC), because local tool configuration is exactly where
// people want to annotate why a value is set.
package settings
