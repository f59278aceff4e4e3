package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mtaouk/atb-fetch/internal/config"
	atbhttp "github.com/mtaouk/atb-fetch/internal/http"
	"github.com/mtaouk/atb-fetch/internal/index"
	"github.com/mtaouk/atb-fetch/internal/progress"
)

// runIndex downloads the metadata index to a local file so later filter and
// fetch invocations can work offline.
func runIndex(args []string) int {
	fs := flag.NewFlagSet("index", flag.ExitOnError)

	cfgPath := fs.String("config", "", "YAML configuration file")
	url := fs.String("url", config.DefaultIndexURL, "Index download URL")
	out := fs.String("out", "file_list.all.latest.tsv.gz", "Where to save the index")
	decompress := fs.Bool("decompress", false, "Also write an uncompressed .tsv beside the index")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: atbfetch index [options]

Download the AllTheBacteria file-list metadata index.

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

	// An explicit -url wins over file and environment.
	indexURL := cfg.IndexURL
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "url" {
			indexURL = *url
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[atbfetch] Received interrupt, shutting down...")
		cancel()
	}()

	client := atbhttp.NewClient(atbhttp.DefaultOptions())

	if info, err := client.Head(ctx, indexURL); err == nil && info.Size > 0 {
		fmt.Fprintf(os.Stderr, "[atbfetch] Downloading %s (%s)\n", indexURL, progress.FormatBytes(info.Size))
	} else {
		fmt.Fprintf(os.Stderr, "[atbfetch] Downloading %s\n", indexURL)
	}

	n, err := saveURL(ctx, client, indexURL, *out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	fmt.Fprintf(os.Stderr, "[atbfetch] Saved %s (%s)\n", *out, progress.FormatBytes(n))

	if *decompress {
		tsvPath, err := writePlainTSV(*out)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error decompressing: %v\n", err)
			return ExitGeneralError
		}
		if tsvPath == "" {
			fmt.Fprintln(os.Stderr, "[atbfetch] Index is not gzipped, skipping decompression")
		} else {
			fmt.Fprintf(os.Stderr, "[atbfetch] Also wrote %s\n", tsvPath)
		}
	}

	return ExitSuccess
}

// saveURL streams the URL into path via a temporary file, renaming on
// success so an interrupted download never looks complete.
func saveURL(ctx context.Context, client *atbhttp.Client, url, path string) (int64, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}

	body, _, err := client.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return n, err
	}

	return n, os.Rename(tmp, path)
}

// writePlainTSV writes an uncompressed copy of a gzipped index next to it.
// Returns "" when the index turns out not to be gzipped.
func writePlainTSV(indexPath string) (string, error) {
	f, err := os.Open(indexPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sig [2]byte
	if n, _ := f.Read(sig[:]); n != 2 || sig[0] != 0x1f || sig[1] != 0x8b {
		return "", nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	rc, err := index.Decompress(f)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	tsvPath := strings.TrimSuffix(indexPath, ".gz")
	if tsvPath == indexPath {
		tsvPath = indexPath + ".tsv"
	}

	tmp := tsvPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tsvPath, os.Rename(tmp, tsvPath)
}
