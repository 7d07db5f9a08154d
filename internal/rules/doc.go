// Package rules holds the fixed dependency graph of the pipeline and the
// evaluator that turns ready artifacts into queued tasks.
//
// A rule fires at most once per manifest: its trigger reports false whenever
// a task with the rule's id exists in any state. Only artifacts in the ready
// state satisfy a trigger. Retrying a failed stage is an explicit reset, never
// a re-evaluation.
package rules
