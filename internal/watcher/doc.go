// Package watcher drives "gantry watch": it observes a repository tree
// with fsnotify and fires a debounced callback when files settle, so a
// burst of editor writes triggers one rerun instead of a dozen.
package watcher
