// Package api serves the library and bucket documents over JSON HTTP and
// accepts ingest and manual task requests.
//
// # Routes
//
//	GET  /api/library                          library index (filters: state, platform)
//	POST /api/library/rebuild                  rebuild the index now
//	POST /api/buckets                          ingest a URL
//	GET  /api/buckets/{hashId}                 bucket manifest
//	POST /api/buckets/{hashId}/upgrade-quality
//	POST /api/buckets/{hashId}/purge-media
//	POST /api/buckets/{hashId}/screenshots
//	POST /api/buckets/{hashId}/chats
//	POST /api/buckets/{hashId}/tasks/{taskId}/reset
//	GET  /api/history                          journal runs (filters: hashId, status, limit)
//
// # Design Notes
//
// Handlers never execute workers. Accepted requests only change manifests;
// the watcher started by `conveyor serve` notices the write and drains the
// bucket. A Kicker, when configured, is told about the bucket immediately.
//
// Errors map from service markers: validation 400, not found 404,
// conflict 409, anything else 500. Bodies are {"error": "..."}.
package api
