// Package executor runs one queued task of one bucket to a terminal state.
//
// A task id is mapped to an external worker through configuration. The worker
// receives the bucket location through templated arguments, reports progress
// as whole-line JSON objects on stdout ({"percent": N}, optionally with
// "flush": true) and signals success by exiting zero. Stderr becomes the
// task's error text on failure.
//
// Every manifest mutation goes through manifest.Store.Update, so progress
// writes, completion, and evaluator re-runs are serialized with any other
// writer of the same bucket. Each run is recorded in the journal and followed
// by exactly one library index rebuild.
package executor
