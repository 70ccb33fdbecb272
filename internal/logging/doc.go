// Package logging assembles structured slog loggers shared by the linewire
// library and CLI.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and defines the field keys every component uses so transport
// internals and commands tag log lines the same way. The package also
// provides a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components
// emit data with the same shape as the rest of the system.
package logging
