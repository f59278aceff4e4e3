package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/mtaouk/atb-fetch/internal/config"
	atbhttp "github.com/mtaouk/atb-fetch/internal/http"
	"github.com/mtaouk/atb-fetch/internal/index"
	"github.com/mtaouk/atb-fetch/internal/plan"
	"github.com/mtaouk/atb-fetch/internal/progress"
	atbrun "github.com/mtaouk/atb-fetch/internal/run"
)

// runFetch drives the full pipeline: filter the index, group matches into
// per-archive plans, download with bounded concurrency, and selectively
// extract the wanted members.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	cfgPath := fs.String("config", "", "YAML configuration file")
	indexPath := fs.String("index", "", "Index file or URL, TSV or TSV.gz")
	species := fs.String("species", "", "Case-insensitive species regexp")
	output := fs.String("output", "assemblies", "Output root: directory or bucket URL (s3://, gs://)")
	archiveDir := fs.String("archive-dir", "archives", "Directory downloaded archives are kept in")
	jobs := fs.Int("jobs", 4, "Concurrent archive downloads")
	stripComponents := fs.Int("strip-components", 1, "Leading path components stripped from member paths")
	deleteArchives := fs.Bool("delete-archives", false, "Delete each archive after extraction")
	showProgress := fs.Bool("progress", false, "Show progress output")
	dryRun := fs.Bool("dry-run", false, "List planned downloads and members without performing them")
	retryAttempts := fs.Int("retry-attempts", 3, "Max download attempts per archive")
	retryBackoff := fs.Duration("retry-backoff", time.Second, "Initial retry backoff")
	retryMaxBackoff := fs.Duration("retry-max-backoff", 30*time.Second, "Max retry backoff")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: atbfetch fetch [options]

Download the archives containing assemblies whose species matches the
given regexp, and extract just those assemblies.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.LoadFromFile(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	// Flags the user actually set win over file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "index":
			cfg.Index = *indexPath
		case "species":
			cfg.Species = *species
		case "output":
			cfg.Output = *output
		case "archive-dir":
			cfg.ArchiveDir = *archiveDir
		case "jobs":
			cfg.Jobs = *jobs
		case "strip-components":
			cfg.StripComponents = *stripComponents
		case "delete-archives":
			cfg.DeleteArchives = *deleteArchives
		case "progress":
			cfg.Progress = *showProgress
		case "retry-attempts":
			cfg.Retry.Attempts = *retryAttempts
		case "retry-backoff":
			cfg.Retry.Backoff = *retryBackoff
		case "retry-max-backoff":
			cfg.Retry.MaxBackoff = *retryMaxBackoff
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[atbfetch] Received interrupt, shutting down...")
		cancel()
	}()

	httpOpts := atbhttp.Options{
		RetryAttempts:   cfg.Retry.Attempts,
		RetryBackoff:    cfg.Retry.Backoff,
		RetryMaxBackoff: cfg.Retry.MaxBackoff,
		HeaderTimeout:   30 * time.Second,
	}

	result, code := buildPlans(ctx, cfg, httpOpts)
	if result == nil {
		return code
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	fmt.Fprintf(os.Stderr, "[atbfetch] Matched %d rows: %d members across %d archives\n",
		result.Rows, result.MemberCount(), len(result.Plans))

	if *dryRun {
		printDryRun(result.Plans)
		return ExitSuccess
	}

	bucket, err := blob.OpenBucket(ctx, outputBucketURL(cfg.Output))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening output %s: %v\n", cfg.Output, err)
		return ExitStorageError
	}
	defer bucket.Close()

	var reporter *progress.Reporter
	if cfg.Progress {
		var declared int64
		for _, p := range result.Plans {
			declared += p.SizeMB * 1024 * 1024
		}
		reporter = progress.NewReporter(progress.Options{
			TotalArchives: len(result.Plans),
			TotalBytes:    declared,
			Jobs:          cfg.Jobs,
			Query:         cfg.Species,
		})
		reporter.Start()
		defer reporter.Stop()
	}

	orch := atbrun.New(atbrun.Options{
		Jobs:            cfg.Jobs,
		ArchiveDir:      cfg.ArchiveDir,
		StripComponents: cfg.StripComponents,
		DeleteArchives:  cfg.DeleteArchives,
		HTTPOptions:     httpOpts,
		Progress:        reporter,
	})

	report := orch.Run(ctx, result.Plans, bucket)
	if reporter != nil {
		reporter.Stop()
	}

	return printReport(report)
}

// buildPlans opens the index (local file or URL), filters it, and groups
// the matches. Returns a nil result with the exit code on failure.
func buildPlans(ctx context.Context, cfg config.Config, httpOpts atbhttp.Options) (*plan.Result, int) {
	var stream io.ReadCloser

	if strings.HasPrefix(cfg.Index, "http://") || strings.HasPrefix(cfg.Index, "https://") {
		client := atbhttp.NewClient(httpOpts)
		body, _, err := client.Get(ctx, cfg.Index)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching index: %v\n", err)
			return nil, ExitGeneralError
		}
		defer body.Close()
		rc, err := index.Decompress(body)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading index: %v\n", err)
			return nil, ExitGeneralError
		}
		stream = rc
	} else {
		rc, err := index.Open(cfg.Index)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
			return nil, ExitGeneralError
		}
		stream = rc
	}
	defer stream.Close()

	filter, err := index.NewFilter(stream, cfg.Species)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, index.ErrMissingColumns) {
			return nil, ExitInvalidArgs
		}
		return nil, ExitGeneralError
	}

	result, err := plan.Build(filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, plan.ErrNoMatches) {
			return nil, ExitNoMatches
		}
		return nil, ExitGeneralError
	}
	return result, ExitSuccess
}

// printDryRun lists every planned download and its wanted members.
func printDryRun(plans []*plan.Plan) {
	fmt.Println("[atbfetch] Dry run: planned downloads and members")
	for _, p := range plans {
		fmt.Printf("Archive: %s\n", p.Archive)
		fmt.Printf("  URL: %s\n", p.URL)
		if p.MD5 != "" {
			fmt.Printf("  MD5: %s\n", p.MD5)
		}
		if p.SizeMB > 0 {
			fmt.Printf("  Size: %d MB\n", p.SizeMB)
		}
		members := make([]string, 0, len(p.Members))
		for m := range p.Members {
			members = append(members, m)
		}
		sort.Strings(members)
		for _, m := range members {
			fmt.Printf("    %s\n", m)
		}
	}
	fmt.Println("[atbfetch] Dry run: no downloads or extractions performed")
}

// printReport prints the final summary and picks the exit code.
func printReport(report *atbrun.Report) int {
	for _, w := range report.Warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	s := report.Summarize()
	fmt.Fprintf(os.Stderr, "[atbfetch] Archives: %d complete | %d partial | %d unreadable | %d download failures | %d reused\n",
		s.Complete, s.Partial, s.Unreadable, s.DownloadFailed, s.SkippedExisting)
	fmt.Fprintf(os.Stderr, "[atbfetch] Members: %d extracted (%s) | %d missing\n",
		s.ExtractedMembers, progress.FormatBytes(s.Bytes), s.MissingMembers)

	if missing := report.MissingMembers(); len(missing) > 0 {
		archives := make([]string, 0, len(missing))
		for a := range missing {
			archives = append(archives, a)
		}
		sort.Strings(archives)
		for _, a := range archives {
			for _, m := range missing[a] {
				fmt.Fprintf(os.Stderr, "Missing: %s (in %s)\n", m, a)
			}
		}
	}

	switch {
	case report.AllDownloadsFailed():
		return ExitDownloadFailed
	case report.AllExtractionsFailed():
		return ExitExtractFailed
	}
	return ExitSuccess
}

// outputBucketURL maps a plain directory to a fileblob URL; anything that
// already looks like a bucket URL passes through.
func outputBucketURL(output string) string {
	if strings.Contains(output, "://") {
		return output
	}
	abs, err := filepath.Abs(output)
	if err != nil {
		abs = output
	}
	return "file://" + abs + "?create_dir=true"
}
