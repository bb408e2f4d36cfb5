// Package log defines the logging contract used across the orchestrator.
// Every component is constructed with a Logger rather than reaching for a
// package-level global, so call sites can be scoped with component tags.
package log

import "github.com/orchestrator/workflow-core/common/log/tag"

// Logger is the logging seam every service component depends on.
type Logger interface {
	Debug(msg string, tags ...tag.Tag)
	Info(msg string, tags ...tag.Tag)
	Warn(msg string, tags ...tag.Tag)
	Error(msg string, tags ...tag.Tag)
	// With returns a Logger that always includes the given tags.
	With(tags ...tag.Tag) Logger
}
