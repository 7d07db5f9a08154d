// Package manifest defines the per-bucket state document and its persistence.
//
// A Manifest aggregates the artifacts (FileItem) and pipeline stages (Task) of
// one content bucket. Artifact metadata is a tagged union keyed by the
// artifact type and decoded through a single exhaustive switch, so every
// consumer handles each metadata shape explicitly.
//
// The Store is the only writer of manifest.json. Every mutation runs under a
// per-bucket advisory file lock and is checked against the document's
// revision counter, so concurrent writers fail with services.ErrConflict
// rather than silently clobbering each other.
package manifest
