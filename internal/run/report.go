package run

import (
	"sort"

	"github.com/mtaouk/atb-fetch/internal/extract"
	"github.com/mtaouk/atb-fetch/internal/fetch"
	"github.com/mtaouk/atb-fetch/internal/plan"
)

// Entry pairs one archive plan with whatever outcomes it accumulated.
// Download and Extraction stay nil in dry-run mode, and Extraction stays
// nil when the download was unusable.
type Entry struct {
	Plan       *plan.Plan
	Download   *fetch.Outcome
	Extraction *extract.Outcome
}

// Report is the aggregate result of one invocation, in plan order.
type Report struct {
	Entries  []Entry
	Warnings []string
	DryRun   bool
}

// Summary are the counts the CLI prints and keys its exit code off.
type Summary struct {
	Archives         int
	Complete         int // extraction found every wanted member
	Partial          int // extraction finished with members missing
	Unreadable       int // archive stream was malformed
	DownloadFailed   int // network failure or checksum mismatch
	SkippedExisting  int
	ExtractedMembers int
	MissingMembers   int
	Bytes            int64 // member bytes written
}

// Summarize folds the report's entries into counts.
func (r *Report) Summarize() Summary {
	s := Summary{Archives: len(r.Entries)}
	for _, e := range r.Entries {
		if e.Download != nil {
			if e.Download.Status == fetch.StatusSkippedExisting {
				s.SkippedExisting++
			}
			if !e.Download.Usable() {
				s.DownloadFailed++
				s.MissingMembers += len(e.Plan.Members)
				continue
			}
		}
		if e.Extraction == nil {
			continue
		}
		switch e.Extraction.Status {
		case extract.StatusComplete:
			s.Complete++
		case extract.StatusPartial:
			s.Partial++
		case extract.StatusUnreadable:
			s.Unreadable++
		}
		s.ExtractedMembers += len(e.Extraction.Extracted)
		s.MissingMembers += len(e.Extraction.Missing)
		s.Bytes += e.Extraction.Bytes
	}
	return s
}

// MissingMembers lists every wanted member that was never extracted,
// including members of archives whose download failed outright.
func (r *Report) MissingMembers() map[string][]string {
	missing := make(map[string][]string)
	for _, e := range r.Entries {
		switch {
		case e.Extraction != nil:
			if len(e.Extraction.Missing) > 0 {
				missing[e.Plan.Archive] = e.Extraction.Missing
			}
		case e.Download != nil && !e.Download.Usable():
			members := make([]string, 0, len(e.Plan.Members))
			for m := range e.Plan.Members {
				members = append(members, m)
			}
			sort.Strings(members)
			missing[e.Plan.Archive] = members
		}
	}
	return missing
}

// AllDownloadsFailed reports total download failure: every archive either
// failed its download or hit a checksum mismatch.
func (r *Report) AllDownloadsFailed() bool {
	if len(r.Entries) == 0 {
		return false
	}
	for _, e := range r.Entries {
		if e.Download == nil || e.Download.Usable() {
			return false
		}
	}
	return true
}

// AllExtractionsFailed reports total extraction failure: at least one
// archive was available but not a single member was written.
func (r *Report) AllExtractionsFailed() bool {
	attempted := 0
	for _, e := range r.Entries {
		if e.Extraction == nil {
			continue
		}
		attempted++
		if len(e.Extraction.Extracted) > 0 {
			return false
		}
	}
	return attempted > 0
}
