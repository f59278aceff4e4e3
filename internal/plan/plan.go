// Package plan groups filtered index rows into per-archive download plans.
//
// Each distinct archive among the matched rows yields one Plan listing the
// members wanted from it. Plans preserve first-seen archive order so output
// is stable across runs against the same index.
package plan

import (
	"errors"
	"fmt"
	"io"

	"github.com/mtaouk/atb-fetch/internal/index"
)

// ErrNoMatches is returned when the species filter matched zero rows.
// This is a configuration error: the run stops before any network access.
var ErrNoMatches = errors.New("plan: no rows matched the species filter")

// Plan is the set of members wanted from one archive.
type Plan struct {
	Archive string
	URL     string
	MD5     string // empty when the index carries no checksum for this archive
	SizeMB  int64  // zero when unknown

	// Members maps each wanted in-archive path to its sample identifier.
	Members map[string]string
}

// RowSource is a forward-only stream of matched index rows.
type RowSource interface {
	Next() (*index.Row, error)
}

// Result holds the built plans plus any non-fatal conditions observed
// while aggregating.
type Result struct {
	Plans    []*Plan
	Warnings []string
	Rows     int // total matched rows consumed
}

// Build consumes the row source fully and aggregates rows by archive name.
// Rows of one archive that disagree on checksum or declared size keep the
// first value seen; the disagreement is recorded as a warning, as is any
// archive left without a checksum entirely. Returns ErrNoMatches if the
// source yields no rows at all.
func Build(src RowSource) (*Result, error) {
	byArchive := make(map[string]*Plan)
	res := &Result{}

	for {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		res.Rows++

		p, ok := byArchive[row.Archive]
		if !ok {
			p = &Plan{
				Archive: row.Archive,
				URL:     row.URL,
				MD5:     row.MD5,
				SizeMB:  row.SizeMB,
				Members: make(map[string]string),
			}
			byArchive[row.Archive] = p
			res.Plans = append(res.Plans, p)
		} else {
			if row.MD5 != "" && p.MD5 != "" && row.MD5 != p.MD5 {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("archive %s: conflicting checksums in index (keeping %s)", p.Archive, p.MD5))
			}
			if row.SizeMB != 0 && p.SizeMB != 0 && row.SizeMB != p.SizeMB {
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("archive %s: conflicting sizes in index (keeping %d MB)", p.Archive, p.SizeMB))
			}
			// Backfill values the first row lacked.
			if p.MD5 == "" {
				p.MD5 = row.MD5
			}
			if p.SizeMB == 0 {
				p.SizeMB = row.SizeMB
			}
		}
		p.Members[row.MemberPath] = row.Sample
	}

	if res.Rows == 0 {
		return nil, ErrNoMatches
	}

	// An archive with no checksum anywhere in the index downloads fine but
	// cannot be integrity-checked. Warn once per archive.
	for _, p := range res.Plans {
		if p.MD5 == "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("archive %s: no checksum in index, download will not be verified", p.Archive))
		}
	}
	return res, nil
}

// MemberCount returns the total number of wanted members across all plans.
func (r *Result) MemberCount() int {
	n := 0
	for _, p := range r.Plans {
		n += len(p.Members)
	}
	return n
}
