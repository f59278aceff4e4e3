package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalArchives is the number of archives planned for download.
	TotalArchives int

	// TotalBytes is the declared size of all planned archives, or zero
	// when the index carries no sizes.
	TotalBytes int64

	// Jobs is the number of parallel download tasks.
	Jobs int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// Query is the species expression being fetched (for display).
	Query string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu                sync.Mutex
	completedBytes    atomic.Int64
	completedArchives atomic.Int32
	failedArchives    atomic.Int32
	inProgress        atomic.Int32
	startTime         time.Time
	lastUpdate        time.Time
	lastBytes         int64
	stopCh            chan struct{}
	stopped           bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	fmt.Fprintf(r.opts.Output, "[atbfetch] Fetching assemblies matching %q\n", r.opts.Query)
	if r.opts.TotalBytes > 0 {
		fmt.Fprintf(r.opts.Output, "[atbfetch] Archives: %d (~%s declared) | Jobs: %d\n",
			r.opts.TotalArchives, formatBytes(r.opts.TotalBytes), r.opts.Jobs)
	} else {
		fmt.Fprintf(r.opts.Output, "[atbfetch] Archives: %d | Jobs: %d\n",
			r.opts.TotalArchives, r.opts.Jobs)
	}

	go r.updateLoop()
}

// Stop stops the progress reporter.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
}

// ArchiveStarted marks an archive download as in progress.
func (r *Reporter) ArchiveStarted() {
	r.inProgress.Add(1)
}

// ArchiveCompleted marks an archive download as completed.
func (r *Reporter) ArchiveCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedArchives.Add(1)
	r.inProgress.Add(-1)
}

// ArchiveFailed marks an archive download as failed.
func (r *Reporter) ArchiveFailed() {
	r.failedArchives.Add(1)
	r.inProgress.Add(-1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	completedArchives := int(r.completedArchives.Load())
	failed := int(r.failedArchives.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	bytesThisPeriod := completed - r.lastBytes
	speed := float64(bytesThisPeriod) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	pending := r.opts.TotalArchives - completedArchives - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "\r[atbfetch] Archives: %d done | %d failed | %d active | %d pending | %s fetched | %s/s    ",
		completedArchives,
		failed,
		inProgress,
		pending,
		formatBytes(completed),
		formatBytes(int64(speed)),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	completedArchives := int(r.completedArchives.Load())
	failed := int(r.failedArchives.Load())
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / duration.Seconds()

	fmt.Fprintf(r.opts.Output, "\r[atbfetch] Archives: %d done | %d failed | %s fetched          \n",
		completedArchives,
		failed,
		formatBytes(completed),
	)
	fmt.Fprintf(r.opts.Output, "[atbfetch] Total time: %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}
