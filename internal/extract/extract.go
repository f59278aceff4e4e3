package extract

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"gocloud.dev/blob"

	"github.com/mtaouk/atb-fetch/internal/plan"
)

// Status classifies the result of one extraction pass.
type Status string

const (
	// StatusComplete means every wanted member was written.
	StatusComplete Status = "complete"
	// StatusPartial means the pass finished but some wanted members were
	// never seen, or were rejected for safety. The archive itself is fine.
	StatusPartial Status = "partial"
	// StatusUnreadable means the member stream was malformed or truncated.
	// Outputs written before the failure are left in place, but the archive
	// cannot be trusted.
	StatusUnreadable Status = "archive_unreadable"
)

// ErrUnsafePath is returned for member paths that would resolve outside
// the output root.
var ErrUnsafePath = errors.New("extract: member path escapes output root")

// Outcome is the result of one extraction pass over one archive.
type Outcome struct {
	Archive   string
	Extracted []string // in-archive paths written, in stream order
	Missing   []string // wanted but never written, sorted
	Status    Status
	Bytes     int64    // total member bytes written
	Warnings  []string // per-member safety rejections
	Err       error    // set for archive_unreadable and sink failures
}

// Options configures an extraction pass.
type Options struct {
	// StripComponents is the number of leading path components removed
	// from a member's path before it is written under the output root.
	StripComponents int
}

// Extract performs one sequential pass over the archive at archivePath,
// writing the members wanted by p into the bucket. Matching is against the
// raw in-archive path; StripComponents only shapes the output key.
func Extract(ctx context.Context, p *plan.Plan, archivePath string, bucket *blob.Bucket, opts Options) Outcome {
	out := Outcome{Archive: p.Archive}

	remaining := make(map[string]struct{}, len(p.Members))
	for member := range p.Members {
		remaining[member] = struct{}{}
	}
	var unsafe []string

	stream, err := openArchive(archivePath)
	if err != nil {
		out.Status = StatusUnreadable
		out.Err = err
		out.Missing = sortedKeys(remaining)
		return out
	}
	defer stream.Close()

	tr := tar.NewReader(stream)
	for len(remaining) > 0 {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			break
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Status = StatusUnreadable
			out.Err = fmt.Errorf("extract: %s: read member stream: %w", p.Archive, err)
			out.Missing = append(sortedKeys(remaining), unsafe...)
			sort.Strings(out.Missing)
			return out
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, wanted := remaining[hdr.Name]; !wanted {
			// Not ours: Next() on the following iteration advances past
			// the payload without materializing it.
			continue
		}

		key, err := OutputKey(hdr.Name, opts.StripComponents)
		if err != nil {
			// Counted as missing, never written outside the root.
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("archive %s: rejected unsafe member path %q", p.Archive, hdr.Name))
			unsafe = append(unsafe, hdr.Name)
			delete(remaining, hdr.Name)
			continue
		}

		n, err := writeMember(ctx, bucket, key, tr)
		if err != nil {
			out.Err = fmt.Errorf("extract: %s: write %s: %w", p.Archive, key, err)
			break
		}
		out.Extracted = append(out.Extracted, hdr.Name)
		out.Bytes += n
		delete(remaining, hdr.Name)
	}

	out.Missing = append(sortedKeys(remaining), unsafe...)
	sort.Strings(out.Missing)
	if len(out.Missing) == 0 && out.Err == nil {
		out.Status = StatusComplete
	} else {
		out.Status = StatusPartial
	}
	return out
}

// OutputKey maps a raw in-archive member path to its output key, removing
// strip leading path components. Returns ErrUnsafePath for paths that are
// absolute, traverse upward, or strip down to nothing.
func OutputKey(member string, strip int) (string, error) {
	if strings.HasPrefix(member, "/") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, member)
	}

	clean := path.Clean(member)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, member)
	}

	parts := strings.Split(clean, "/")
	if strip >= len(parts) {
		return "", fmt.Errorf("%w: %q has no components left after stripping %d", ErrUnsafePath, member, strip)
	}
	if strip > 0 {
		parts = parts[strip:]
	}
	return strings.Join(parts, "/"), nil
}

// writeMember streams one member's content to the bucket. The blob writer
// commits on Close, so failures leave nothing at the final key.
func writeMember(ctx context.Context, bucket *blob.Bucket, key string, r io.Reader) (int64, error) {
	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// openArchive opens the archive file and wraps it in the decompressor its
// suffix calls for. The xz and gzip member streams only support forward
// sequential reads, which is all the single extraction pass needs.
func openArchive(archivePath string) (io.ReadCloser, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("extract: open archive: %w", err)
	}

	switch {
	case strings.HasSuffix(archivePath, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("extract: open xz stream: %w", err)
		}
		return &streamCloser{Reader: xr, closers: []io.Closer{f}}, nil
	case strings.HasSuffix(archivePath, ".gz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("extract: open gzip stream: %w", err)
		}
		return &streamCloser{Reader: gz, closers: []io.Closer{gz, f}}, nil
	default:
		return f, nil
	}
}

// streamCloser closes every underlying closer, returning the first error.
type streamCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *streamCloser) Close() error {
	var err error
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
