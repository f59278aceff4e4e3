package index

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// Required column names in the index header.
var requiredColumns = []string{
	"sample",
	"species_sylph",
	"species_miniphy",
	"filename_in_tar_xz",
	"tar_xz",
	"tar_xz_url",
}

// Optional column names. Rows missing these are downloadable but not
// integrity-verifiable.
const (
	colMD5    = "tar_xz_md5"
	colSizeMB = "tar_xz_size_MB"
)

// ErrMissingColumns is returned when the index header lacks required columns.
var ErrMissingColumns = errors.New("index: missing required columns")

// Row is one parsed line of the metadata index.
type Row struct {
	Sample         string
	SpeciesSylph   string
	SpeciesMiniphy string
	MemberPath     string // path of the assembly inside the archive
	Archive        string // archive file name
	URL            string // archive download URL
	MD5            string // empty when the index has no checksum for this archive
	SizeMB         int64  // zero when unknown

	// Raw is the original tab-separated line, kept so filtered rows can be
	// re-emitted verbatim.
	Raw string
}

// Open opens an index file for reading, transparently decompressing gzip.
// The path "-" reads from stdin.
func Open(path string) (io.ReadCloser, error) {
	if path == "-" {
		return Decompress(os.Stdin)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	rc, err := Decompress(fh)
	if err != nil {
		fh.Close()
		return nil, err
	}
	return &multiReadCloser{Reader: rc, closers: []io.Closer{rc, fh}}, nil
}

// Decompress wraps a byte stream in a gzip reader when the 1f 8b magic
// bytes are present, and passes it through untouched otherwise. The
// returned reader must be closed by the caller; closing it does not close
// the underlying stream.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	sig, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("index: sniff stream: %w", err)
	}
	if len(sig) == 2 && sig[0] == 0x1f && sig[1] == 0x8b {
		gz, err := pgzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("index: open gzip: %w", err)
		}
		return gz, nil
	}
	return io.NopCloser(br), nil
}

// multiReadCloser closes all wrapped closers, returning the first error.
type multiReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Close() error {
	var err error
	for _, c := range m.closers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Reader streams rows from an index table.
type Reader struct {
	scanner *bufio.Scanner
	header  string
	cols    map[string]int
	hasMD5  bool
	hasSize bool
}

// NewReader reads and validates the header line of the index.
// Returns ErrMissingColumns if any required column is absent.
func NewReader(r io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("index: read header: %w", err)
		}
		return nil, fmt.Errorf("%w: empty index", ErrMissingColumns)
	}

	header := strings.TrimRight(sc.Text(), "\r")
	cols := make(map[string]int)
	for i, name := range strings.Split(header, "\t") {
		cols[name] = i
	}

	var missing []string
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	_, hasMD5 := cols[colMD5]
	_, hasSize := cols[colSizeMB]

	return &Reader{
		scanner: sc,
		header:  header,
		cols:    cols,
		hasMD5:  hasMD5,
		hasSize: hasSize,
	}, nil
}

// Header returns the original header line.
func (r *Reader) Header() string {
	return r.header
}

// HasChecksums reports whether the index carries a checksum column at all.
func (r *Reader) HasChecksums() bool {
	return r.hasMD5
}

// Next returns the next row, or io.EOF when the stream is exhausted.
// Blank lines are skipped. Lines with fewer fields than a required column
// index are malformed and returned as an error.
func (r *Reader) Next() (*Row, error) {
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		row, err := r.parse(line)
		if err != nil {
			return nil, err
		}
		return row, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("index: read row: %w", err)
	}
	return nil, io.EOF
}

func (r *Reader) parse(line string) (*Row, error) {
	fields := strings.Split(line, "\t")

	get := func(name string) string {
		ix := r.cols[name]
		if ix >= len(fields) {
			return ""
		}
		return fields[ix]
	}

	for _, name := range requiredColumns {
		if r.cols[name] >= len(fields) {
			return nil, fmt.Errorf("index: malformed row: %d fields, need column %q at index %d",
				len(fields), name, r.cols[name])
		}
	}

	row := &Row{
		Sample:         get("sample"),
		SpeciesSylph:   get("species_sylph"),
		SpeciesMiniphy: get("species_miniphy"),
		MemberPath:     get("filename_in_tar_xz"),
		Archive:        get("tar_xz"),
		URL:            get("tar_xz_url"),
		Raw:            line,
	}
	if r.hasMD5 {
		row.MD5 = strings.ToLower(get(colMD5))
	}
	if r.hasSize {
		if v := get(colSizeMB); v != "" {
			// Sizes are sometimes annotated with decimals upstream.
			if mb, err := strconv.ParseFloat(v, 64); err == nil {
				row.SizeMB = int64(mb)
			}
		}
	}
	return row, nil
}

// Filter yields only rows whose species columns match a pattern.
type Filter struct {
	reader  *Reader
	pattern *regexp.Regexp
}

// NewFilter compiles the species expression case-insensitively and wraps
// the given stream. The expression is matched against both species label
// columns; a row matching either (or both) is emitted exactly once.
func NewFilter(r io.Reader, expr string) (*Filter, error) {
	pattern, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("index: compile species pattern: %w", err)
	}
	reader, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Filter{reader: reader, pattern: pattern}, nil
}

// Header returns the original header line of the underlying index.
func (f *Filter) Header() string {
	return f.reader.Header()
}

// Next returns the next matching row, or io.EOF.
func (f *Filter) Next() (*Row, error) {
	for {
		row, err := f.reader.Next()
		if err != nil {
			return nil, err
		}
		if f.pattern.MatchString(row.SpeciesSylph) || f.pattern.MatchString(row.SpeciesMiniphy) {
			return row, nil
		}
	}
}
