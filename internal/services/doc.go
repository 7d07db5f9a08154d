// Package services defines shared utilities consumed by the scheduler, the
// task executor, and the outer surfaces (CLI and HTTP API).
//
// Key responsibilities:
//   - Context helpers that stamp bucket hash IDs, task IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     (configuration, worker, validation, conflict) so callers can decide
//     whether a failure is local to one task or fatal to a bucket.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the pipeline.
package services
