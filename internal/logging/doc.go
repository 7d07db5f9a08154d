// Package logging assembles structured slog loggers and formatting helpers used
// across conveyor.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so executor and scheduler code
// can automatically tag log lines with bucket hash IDs, task IDs, and
// correlation IDs. The package also provides a no-op logger for tests and
// wiring code that cannot fail.
package logging
