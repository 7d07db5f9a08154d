// Package tasks creates buckets and the tasks external actors request
// directly: quality upgrades, media purges, screenshot extraction, chat
// management, and resets of terminal tasks.
//
// Manual tasks only enqueue work. The scheduler runs them like any other
// queued task, and their effects on the manifest are applied by the executor
// once the worker succeeds.
package tasks
