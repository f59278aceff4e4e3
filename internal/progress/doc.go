// Package progress provides progress reporting for archive downloads.
//
// This package outputs human-readable progress information to stderr,
// including per-archive completion counts and transfer speed.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalArchives: len(plans),
//	    TotalBytes:    declaredBytes,
//	    Jobs:          4,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as archives complete
//	reporter.ArchiveCompleted(archiveBytes)
//
// # Output Format
//
//	[atbfetch] Fetching assemblies matching "serratia"
//	[atbfetch] Archives: 12 (~4.35 GB declared) | Jobs: 4
//	[atbfetch] Archives: 3 done | 0 failed | 4 active | 5 pending | 1.02 GB fetched | 48.11 MB/s
package progress
