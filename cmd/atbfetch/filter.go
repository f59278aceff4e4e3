package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/pgzip"

	"github.com/mtaouk/atb-fetch/internal/index"
)

// runFilter streams the index through the species filter, previewing the
// first matches and optionally saving the filtered rows as a new TSV.
func runFilter(args []string) int {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)

	indexPath := fs.String("index", "", "Index file, TSV or TSV.gz (required; '-' for stdin)")
	species := fs.String("species", "", "Case-insensitive species regexp (required)")
	preview := fs.Int("preview", 5, "Show the first N matching rows")
	save := fs.String("save", "", "Save filtered rows to this path (.gz for gzip)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: atbfetch filter [options]

Filter the metadata index by a species regexp. Rows match when the
expression matches either species column.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	if *indexPath == "" || *species == "" {
		fmt.Fprintln(os.Stderr, "Error: -index and -species are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	rc, err := index.Open(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		return ExitGeneralError
	}
	defer rc.Close()

	filter, err := index.NewFilter(rc, *species)
	if err != nil {
		if errors.Is(err, index.ErrMissingColumns) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	var saver *filteredWriter
	if *save != "" {
		saver, err = newFilteredWriter(*save, filter.Header())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", *save, err)
			return ExitGeneralError
		}
	}

	matched := 0
	for {
		row, err := filter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitGeneralError
		}
		if matched < *preview {
			fmt.Println(row.Raw)
		}
		if saver != nil {
			if err := saver.writeRow(row.Raw); err != nil {
				fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *save, err)
				return ExitGeneralError
			}
		}
		matched++
	}

	fmt.Fprintf(os.Stderr, "\n[atbfetch] Matched %d rows\n", matched)

	if saver != nil {
		if err := saver.commit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving %s: %v\n", *save, err)
			return ExitGeneralError
		}
		fmt.Fprintf(os.Stderr, "[atbfetch] Saved filtered index to %s\n", *save)
	}

	if matched == 0 {
		return ExitNoMatches
	}
	return ExitSuccess
}

// filteredWriter writes filtered rows to a temporary file, gzipping when
// the target path ends in .gz, and renames into place on commit.
type filteredWriter struct {
	path string
	tmp  string
	file *os.File
	gz   *pgzip.Writer
	w    io.Writer
}

func newFilteredWriter(path, header string) (*filteredWriter, error) {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, err
	}

	fw := &filteredWriter{path: path, tmp: tmp, file: f, w: f}
	if strings.HasSuffix(path, ".gz") {
		fw.gz = pgzip.NewWriter(f)
		fw.w = fw.gz
	}

	if err := fw.writeRow(header); err != nil {
		fw.abandon()
		return nil, err
	}
	return fw, nil
}

func (fw *filteredWriter) writeRow(line string) error {
	_, err := io.WriteString(fw.w, line+"\n")
	return err
}

func (fw *filteredWriter) commit() error {
	var err error
	if fw.gz != nil {
		err = fw.gz.Close()
	}
	if cerr := fw.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(fw.tmp)
		return err
	}
	return os.Rename(fw.tmp, fw.path)
}

func (fw *filteredWriter) abandon() {
	if fw.gz != nil {
		fw.gz.Close()
	}
	fw.file.Close()
	os.Remove(fw.tmp)
}
