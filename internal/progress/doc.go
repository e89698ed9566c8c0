// Package progress carries crawl progress from the scheduler and job runner
// to observers. A Reporter stamps events for one job; the Hub batches them on
// a background goroutine without ever blocking the crawl and fans batches out
// to sinks that log, export metrics or update the job store.
package progress
