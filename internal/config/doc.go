// Package config loads, normalizes, and validates linewire configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files so the CLI and library consumers discover
// the daemon socket, timeouts, and journal location in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
