// Command conveyor drives the content pipeline: it ingests URLs into buckets,
// runs queued tasks through configured workers, maintains the library index,
// and serves the JSON API with a manifest watcher.
package main
