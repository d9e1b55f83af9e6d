// Package progress streams crawl job lifecycle events from workers to a set
// of pluggable sinks. Workers call Emit as the job advances; the Hub batches
// events in the background and fans each batch out to its sinks, so emitting
// never blocks the crawl loop even when a sink is slow.
package progress
