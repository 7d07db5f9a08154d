// Package library maintains library.json, the denormalized one-row-per-bucket
// index at the storage root.
//
// The index is derived data. Rebuild replaces it wholesale from the bucket
// manifests and a few artifact files (summary, topics), falling back to the
// previously cached value of a field whenever its source cannot be read.
// Buckets whose manifest cannot be loaded are logged and left out.
package library
