// Package logging assembles structured slog loggers and formatting helpers used
// across gridlink.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context helpers so background tasks tag their log
// lines with task IDs and operation kinds. The package also provides a no-op
// logger for tests and wiring code that cannot fail.
package logging
