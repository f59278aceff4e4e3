package run

import (
	"context"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/mtaouk/atb-fetch/internal/extract"
	"github.com/mtaouk/atb-fetch/internal/fetch"
	atbhttp "github.com/mtaouk/atb-fetch/internal/http"
	"github.com/mtaouk/atb-fetch/internal/plan"
	"github.com/mtaouk/atb-fetch/internal/progress"
)

// Options configures one invocation.
type Options struct {
	// Jobs is the number of parallel download tasks. Default: 4
	Jobs int

	// ArchiveDir is where downloaded archives are kept.
	ArchiveDir string

	// StripComponents is applied to member paths before writing.
	StripComponents int

	// DeleteArchives removes each archive file after its extraction pass
	// finished cleanly (complete or partial). Unreadable archives are
	// always kept as evidence.
	DeleteArchives bool

	// DryRun reports the plans without downloading or writing anything.
	DryRun bool

	// HTTPOptions configures the download client, including retries.
	HTTPOptions atbhttp.Options

	// Progress is an optional progress reporter.
	Progress *progress.Reporter
}

// Orchestrator drives the download-then-extract pipeline over a set of
// archive plans.
type Orchestrator struct {
	opts Options
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Jobs <= 0 {
		opts.Jobs = 4
	}
	return &Orchestrator{opts: opts}
}

// Run executes (or, in dry-run mode, previews) the pipeline for the given
// plans, writing extracted members into the bucket. The returned report
// always covers every plan, even under cancellation or partial failure.
func (o *Orchestrator) Run(ctx context.Context, plans []*plan.Plan, bucket *blob.Bucket) *Report {
	// Entries is sized up front so the entryFor pointers stay valid; an
	// append here could move the backing array out from under them.
	report := &Report{DryRun: o.opts.DryRun, Entries: make([]Entry, len(plans))}
	entryFor := make(map[string]*Entry, len(plans))
	for i, p := range plans {
		report.Entries[i] = Entry{Plan: p}
		entryFor[p.Archive] = &report.Entries[i]
	}

	if o.opts.DryRun {
		return report
	}

	scheduler := fetch.NewScheduler(fetch.Options{
		Jobs:        o.opts.Jobs,
		Dir:         o.opts.ArchiveDir,
		HTTPOptions: o.opts.HTTPOptions,
		Progress:    o.opts.Progress,
	})

	// writtenBy tracks output keys across archives so colliding member
	// paths surface as a warning instead of a silent overwrite.
	writtenBy := make(map[string]string)

	// Extraction runs here in the consumer loop, one archive at a time,
	// overlapping with the scheduler's remaining downloads.
	for outcome := range scheduler.Run(ctx, plans) {
		entry := entryFor[outcome.Archive]
		dl := outcome
		entry.Download = &dl

		if !outcome.Usable() {
			continue
		}

		ext := extract.Extract(ctx, entry.Plan, outcome.LocalPath, bucket, extract.Options{
			StripComponents: o.opts.StripComponents,
		})
		entry.Extraction = &ext
		report.Warnings = append(report.Warnings, ext.Warnings...)

		for _, member := range ext.Extracted {
			key, err := extract.OutputKey(member, o.opts.StripComponents)
			if err != nil {
				continue
			}
			if prev, ok := writtenBy[key]; ok && prev != outcome.Archive {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("output %s written by both %s and %s (last writer wins)", key, prev, outcome.Archive))
			}
			writtenBy[key] = outcome.Archive
		}

		if o.opts.DeleteArchives && ext.Status != extract.StatusUnreadable {
			if err := os.Remove(outcome.LocalPath); err != nil && !os.IsNotExist(err) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("delete archive %s: %v", outcome.LocalPath, err))
			}
		}
	}

	return report
}
