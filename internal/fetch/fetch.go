package fetch

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	atbhttp "github.com/mtaouk/atb-fetch/internal/http"
	"github.com/mtaouk/atb-fetch/internal/plan"
	"github.com/mtaouk/atb-fetch/internal/progress"
)

// Status classifies the result of one archive download task.
type Status string

const (
	// StatusOK means the archive was downloaded and verified.
	StatusOK Status = "ok"
	// StatusChecksumMismatch means the downloaded bytes did not match the
	// declared checksum. The temporary file is discarded.
	StatusChecksumMismatch Status = "checksum_mismatch"
	// StatusNetworkFailure means the download failed after all attempts,
	// or failed with a terminal HTTP error.
	StatusNetworkFailure Status = "network_failure"
	// StatusSkippedExisting means a verified local copy already existed.
	StatusSkippedExisting Status = "skipped_existing"
)

// Outcome is the result of one archive download task.
type Outcome struct {
	Archive   string
	LocalPath string
	Status    Status
	Attempts  int   // network attempts used; zero for skipped archives
	Bytes     int64 // bytes transferred; zero for skipped archives
	Err       error // set for checksum_mismatch and network_failure
}

// Usable reports whether the local file may be handed to extraction.
func (o Outcome) Usable() bool {
	return o.Status == StatusOK || o.Status == StatusSkippedExisting
}

// Options configures the scheduler.
type Options struct {
	// Jobs is the number of parallel download tasks.
	// Default: 4
	Jobs int

	// Dir is the directory archives are downloaded into.
	Dir string

	// HTTPOptions configures the HTTP client, including the retry bound.
	HTTPOptions atbhttp.Options

	// Progress is an optional progress reporter.
	Progress *progress.Reporter
}

// Scheduler executes per-archive download tasks with bounded concurrency.
type Scheduler struct {
	client *atbhttp.Client
	opts   Options
}

// NewScheduler creates a scheduler.
func NewScheduler(opts Options) *Scheduler {
	if opts.Jobs <= 0 {
		opts.Jobs = 4
	}
	if opts.HTTPOptions.RetryAttempts == 0 {
		opts.HTTPOptions = atbhttp.DefaultOptions()
	}
	return &Scheduler{
		client: atbhttp.NewClient(opts.HTTPOptions),
		opts:   opts,
	}
}

// Run fans the plans out over the worker pool and streams one Outcome per
// plan back as tasks finish. The returned channel closes once every plan is
// accounted for; no outcome is dropped even when siblings fail or the
// context is cancelled mid-run.
func (s *Scheduler) Run(ctx context.Context, plans []*plan.Plan) <-chan Outcome {
	jobs := make(chan *plan.Plan)
	outcomes := make(chan Outcome, len(plans))

	var wg sync.WaitGroup
	for i := 0; i < s.opts.Jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				outcomes <- s.fetchOne(ctx, p)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range plans {
			select {
			case jobs <- p:
			case <-ctx.Done():
				// Account for plans that never reached a worker.
				outcomes <- Outcome{
					Archive:   p.Archive,
					LocalPath: filepath.Join(s.opts.Dir, p.Archive),
					Status:    StatusNetworkFailure,
					Err:       ctx.Err(),
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	return outcomes
}

// fetchOne runs the download task for a single archive.
func (s *Scheduler) fetchOne(ctx context.Context, p *plan.Plan) Outcome {
	out := Outcome{
		Archive:   p.Archive,
		LocalPath: filepath.Join(s.opts.Dir, p.Archive),
	}

	if s.existingComplete(out.LocalPath, p) {
		out.Status = StatusSkippedExisting
		return out
	}

	if s.opts.Progress != nil {
		s.opts.Progress.ArchiveStarted()
	}

	attempts := s.opts.HTTPOptions.RetryAttempts
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := s.client.Backoff(ctx, attempt-1); err != nil {
				lastErr = err
				break
			}
		}
		out.Attempts = attempt

		n, sum, err := s.downloadTemp(ctx, p.URL, out.LocalPath)
		if err != nil {
			lastErr = err
			if !atbhttp.Retryable(err) {
				break
			}
			continue
		}

		// Empty declared checksum means verification is not applicable.
		if p.MD5 != "" && sum != p.MD5 {
			os.Remove(tempPath(out.LocalPath))
			out.Status = StatusChecksumMismatch
			out.Err = fmt.Errorf("fetch: %s: checksum mismatch: expected %s, got %s", p.Archive, p.MD5, sum)
			if s.opts.Progress != nil {
				s.opts.Progress.ArchiveFailed()
			}
			return out
		}

		if err := os.Rename(tempPath(out.LocalPath), out.LocalPath); err != nil {
			lastErr = fmt.Errorf("promote archive: %w", err)
			break
		}

		out.Status = StatusOK
		out.Bytes = n
		if s.opts.Progress != nil {
			s.opts.Progress.ArchiveCompleted(n)
		}
		return out
	}

	out.Status = StatusNetworkFailure
	out.Err = fmt.Errorf("fetch: %s: %w", p.Archive, lastErr)
	if s.opts.Progress != nil {
		s.opts.Progress.ArchiveFailed()
	}
	return out
}

// downloadTemp streams the URL into <final>.part, computing md5 on the way.
// On failure the temporary file is removed, except under cancellation where
// it is left for inspection. Nothing is ever written at the final path.
func (s *Scheduler) downloadTemp(ctx context.Context, url, finalPath string) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return 0, "", fmt.Errorf("create archive dir: %w", err)
	}

	body, _, err := s.client.Get(ctx, url)
	if err != nil {
		return 0, "", err
	}
	defer body.Close()

	tmp := tempPath(finalPath)
	f, err := os.Create(tmp)
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(f, hash), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() == nil {
			os.Remove(tmp)
		}
		return n, "", fmt.Errorf("stream body: %w", err)
	}

	return n, hex.EncodeToString(hash.Sum(nil)), nil
}

// existingComplete reports whether the local file can be trusted as a
// finished prior download. With a declared checksum the file is re-hashed;
// without one, the declared size (whole megabytes in the index) is the only
// available signal.
func (s *Scheduler) existingComplete(path string, p *plan.Plan) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}

	if p.MD5 != "" {
		sum, err := md5File(path)
		return err == nil && sum == p.MD5
	}
	if p.SizeMB > 0 {
		const mb = 1024 * 1024
		return (fi.Size()+mb/2)/mb == p.SizeMB
	}
	return false
}

// md5File computes the md5 hex digest of a file.
func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func tempPath(finalPath string) string {
	return finalPath + ".part"
}
