// Package fetch downloads planned archives with bounded concurrency.
//
// This package runs a worker pool over the archive plans, one download task
// per archive. Each task skips archives already present locally, streams
// the rest over HTTP into a temporary file with retry and backoff, verifies
// the md5 checksum when the index declares one, and renames the temporary
// file into place on success.
//
// # Outcomes
//
// Every plan yields exactly one Outcome, streamed over a channel as tasks
// finish so extraction can start before sibling downloads complete. One
// archive's failure never cancels the others; only context cancellation
// stops the pool.
//
// # Usage
//
//	s := fetch.NewScheduler(fetch.Options{Jobs: 4, Dir: tarsDir})
//	for outcome := range s.Run(ctx, plans) {
//	    // outcome.Status, outcome.LocalPath
//	}
package fetch
