// Package config loads, normalizes, and validates conveyor configuration data.
//
// It supplies repository defaults (including the built-in worker table),
// expands user paths (including tilde shortcuts), reads TOML files, and
// validates every section before handing the result to the CLI. The Config
// type centralizes the storage root, executor tuning, task parameter
// fallbacks, and the task id to worker command mapping.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
