// Package journal records one row per task executor run in a SQLite database.
//
// The journal is an audit trail only. Manifests remain the source of truth for
// task state; nothing reads the journal to make scheduling decisions.
package journal
