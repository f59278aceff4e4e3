package extract

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"gocloud.dev/blob/memblob"

	"github.com/mtaouk/atb-fetch/internal/plan"
)

type member struct {
	name string
	body string
	typ  byte
}

func buildTar(t *testing.T, members []member, closeTrailer bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		typ := m.typ
		if typ == 0 {
			typ = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     m.name,
			Mode:     0644,
			Size:     int64(len(m.body)),
			Typeflag: typ,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", m.name, err)
		}
		if typ == tar.TypeReg {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatalf("write body %s: %v", m.name, err)
			}
		}
	}
	if closeTrailer {
		if err := tw.Close(); err != nil {
			t.Fatalf("close tar: %v", err)
		}
	} else {
		if err := tw.Flush(); err != nil {
			t.Fatalf("flush tar: %v", err)
		}
	}
	return buf.Bytes()
}

func writeTarXZ(t *testing.T, dir, name string, members []member) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	if _, err := xw.Write(buildTar(t, members, true)); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", name, err)
	}
	return path
}

func writeRawTar(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testPlan(archive string, members map[string]string) *plan.Plan {
	return &plan.Plan{Archive: archive, Members: members}
}

func TestExtractComplete(t *testing.T) {
	dir := t.TempDir()
	path := writeTarXZ(t, dir, "serratia.tar.xz", []member{
		{name: "serratia/SAMD001.fa", body: ">SAMD001\nACGT\n"},
		{name: "serratia/SAMD002.fa", body: ">SAMD002\nTTTT\n"},
		{name: "serratia/SAMD003.fa", body: ">SAMD003\nGGGG\n"},
	})

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("serratia.tar.xz", map[string]string{
		"serratia/SAMD001.fa": "SAMD001",
		"serratia/SAMD003.fa": "SAMD003",
	})

	ctx := context.Background()
	out := Extract(ctx, p, path, bucket, Options{StripComponents: 1})

	if out.Status != StatusComplete {
		t.Fatalf("expected complete, got %s (%v)", out.Status, out.Err)
	}
	if len(out.Missing) != 0 {
		t.Errorf("expected no missing members, got %v", out.Missing)
	}
	// Stream order, not sorted order.
	want := []string{"serratia/SAMD001.fa", "serratia/SAMD003.fa"}
	if len(out.Extracted) != len(want) {
		t.Fatalf("expected %d extracted, got %v", len(want), out.Extracted)
	}
	for i, name := range want {
		if out.Extracted[i] != name {
			t.Errorf("extracted[%d]: expected %s, got %s", i, name, out.Extracted[i])
		}
	}
	if out.Bytes != int64(len(">SAMD001\nACGT\n")+len(">SAMD003\nGGGG\n")) {
		t.Errorf("unexpected byte count %d", out.Bytes)
	}

	got, err := bucket.ReadAll(ctx, "SAMD001.fa")
	if err != nil {
		t.Fatalf("read extracted member: %v", err)
	}
	if string(got) != ">SAMD001\nACGT\n" {
		t.Errorf("unexpected member content %q", got)
	}

	// The unwanted member must not be written under any key.
	for _, key := range []string{"SAMD002.fa", "serratia/SAMD002.fa"} {
		if ok, _ := bucket.Exists(ctx, key); ok {
			t.Errorf("unwanted member written at %q", key)
		}
	}
}

func TestExtractEarlyTermination(t *testing.T) {
	// Valid entries for all wanted members, then garbage where the next
	// header would be. If the pass kept reading past the last wanted
	// member it would report the archive unreadable.
	data := buildTar(t, []member{
		{name: "s/SAMD001.fa", body: "AA"},
		{name: "s/SAMD002.fa", body: "CC"},
	}, false)
	data = append(data, bytes.Repeat([]byte{0xFF}, 512)...)

	dir := t.TempDir()
	path := writeRawTar(t, dir, "trail.tar", data)

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("trail.tar", map[string]string{
		"s/SAMD001.fa": "SAMD001",
		"s/SAMD002.fa": "SAMD002",
	})

	out := Extract(context.Background(), p, path, bucket, Options{StripComponents: 1})
	if out.Status != StatusComplete {
		t.Fatalf("expected complete without reading past last wanted member, got %s (%v)",
			out.Status, out.Err)
	}
}

func TestExtractPartialMissingMember(t *testing.T) {
	dir := t.TempDir()
	path := writeTarXZ(t, dir, "sparse.tar.xz", []member{
		{name: "s/SAMD001.fa", body: "AA"},
	})

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("sparse.tar.xz", map[string]string{
		"s/SAMD001.fa": "SAMD001",
		"s/SAMD009.fa": "SAMD009",
		"s/SAMD005.fa": "SAMD005",
	})

	out := Extract(context.Background(), p, path, bucket, Options{StripComponents: 1})
	if out.Status != StatusPartial {
		t.Fatalf("expected partial, got %s", out.Status)
	}
	if len(out.Extracted) != 1 || out.Extracted[0] != "s/SAMD001.fa" {
		t.Errorf("unexpected extracted list %v", out.Extracted)
	}
	// Missing is sorted.
	if len(out.Missing) != 2 || out.Missing[0] != "s/SAMD005.fa" || out.Missing[1] != "s/SAMD009.fa" {
		t.Errorf("unexpected missing list %v", out.Missing)
	}
}

func TestExtractUnreadableStream(t *testing.T) {
	// One good entry, then garbage, with a wanted member still outstanding
	// so the pass has to keep reading into the corrupt region.
	data := buildTar(t, []member{
		{name: "s/SAMD001.fa", body: "AA"},
	}, false)
	data = append(data, bytes.Repeat([]byte{0xFF}, 512)...)

	dir := t.TempDir()
	path := writeRawTar(t, dir, "corrupt.tar", data)

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("corrupt.tar", map[string]string{
		"s/SAMD001.fa": "SAMD001",
		"s/SAMD002.fa": "SAMD002",
	})

	out := Extract(context.Background(), p, path, bucket, Options{StripComponents: 1})
	if out.Status != StatusUnreadable {
		t.Fatalf("expected archive_unreadable, got %s", out.Status)
	}
	if out.Err == nil {
		t.Error("expected stream error")
	}
	// Members extracted before the failure stay extracted.
	if len(out.Extracted) != 1 || out.Extracted[0] != "s/SAMD001.fa" {
		t.Errorf("unexpected extracted list %v", out.Extracted)
	}
	if len(out.Missing) != 1 || out.Missing[0] != "s/SAMD002.fa" {
		t.Errorf("unexpected missing list %v", out.Missing)
	}
}

func TestExtractNotAnArchive(t *testing.T) {
	dir := t.TempDir()
	path := writeRawTar(t, dir, "noise.tar.xz", []byte("this is not xz data"))

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("noise.tar.xz", map[string]string{"s/SAMD001.fa": "SAMD001"})

	out := Extract(context.Background(), p, path, bucket, Options{})
	if out.Status != StatusUnreadable {
		t.Fatalf("expected archive_unreadable, got %s", out.Status)
	}
	if len(out.Missing) != 1 {
		t.Errorf("all wanted members should be missing, got %v", out.Missing)
	}
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeTarXZ(t, dir, "hostile.tar.xz", []member{
		{name: "../escape.fa", body: "BAD"},
		{name: "s/SAMD001.fa", body: "AA"},
	})

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("hostile.tar.xz", map[string]string{
		"../escape.fa": "ESCAPE",
		"s/SAMD001.fa": "SAMD001",
	})

	ctx := context.Background()
	out := Extract(ctx, p, path, bucket, Options{StripComponents: 1})

	if out.Status != StatusPartial {
		t.Fatalf("expected partial, got %s", out.Status)
	}
	if len(out.Warnings) != 1 {
		t.Fatalf("expected 1 safety warning, got %v", out.Warnings)
	}
	if len(out.Missing) != 1 || out.Missing[0] != "../escape.fa" {
		t.Errorf("rejected member should be counted missing, got %v", out.Missing)
	}
	if len(out.Extracted) != 1 || out.Extracted[0] != "s/SAMD001.fa" {
		t.Errorf("safe member should still be extracted, got %v", out.Extracted)
	}
	if ok, _ := bucket.Exists(ctx, "escape.fa"); ok {
		t.Error("unsafe member must never reach the bucket")
	}
}

func TestExtractSkipsNonRegularEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeTarXZ(t, dir, "dirs.tar.xz", []member{
		{name: "s", typ: tar.TypeDir},
		{name: "s/SAMD001.fa", body: "AA"},
	})

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("dirs.tar.xz", map[string]string{"s/SAMD001.fa": "SAMD001"})

	out := Extract(context.Background(), p, path, bucket, Options{StripComponents: 1})
	if out.Status != StatusComplete {
		t.Fatalf("expected complete, got %s (%v)", out.Status, out.Err)
	}
}

func TestExtractGzipArchive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gw := pgzip.NewWriter(f)
	if _, err := gw.Write(buildTar(t, []member{
		{name: "s/SAMD001.fa", body: "AA"},
	}, true)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	p := testPlan("legacy.tar.gz", map[string]string{"s/SAMD001.fa": "SAMD001"})

	out := Extract(context.Background(), p, path, bucket, Options{StripComponents: 1})
	if out.Status != StatusComplete {
		t.Fatalf("expected complete, got %s (%v)", out.Status, out.Err)
	}
}

func TestExtractCancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := writeTarXZ(t, dir, "cancel.tar.xz", []member{
		{name: "s/SAMD001.fa", body: "AA"},
	})

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := testPlan("cancel.tar.xz", map[string]string{"s/SAMD001.fa": "SAMD001"})

	out := Extract(ctx, p, path, bucket, Options{StripComponents: 1})
	if out.Status != StatusPartial {
		t.Fatalf("expected partial under cancellation, got %s", out.Status)
	}
	if !errors.Is(out.Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", out.Err)
	}
}

func TestOutputKey(t *testing.T) {
	tests := []struct {
		name    string
		member  string
		strip   int
		want    string
		wantErr bool
	}{
		{"no strip", "serratia/SAMD001.fa", 0, "serratia/SAMD001.fa", false},
		{"strip one", "serratia/SAMD001.fa", 1, "SAMD001.fa", false},
		{"strip two", "atb/serratia/SAMD001.fa", 2, "SAMD001.fa", false},
		{"strip keeps subpath", "atb/serratia/SAMD001.fa", 1, "serratia/SAMD001.fa", false},
		{"dot segments cleaned", "serratia/./SAMD001.fa", 1, "SAMD001.fa", false},
		{"absolute path", "/etc/passwd", 0, "", true},
		{"parent traversal", "../escape.fa", 0, "", true},
		{"embedded traversal", "s/../../escape.fa", 0, "", true},
		{"stripped to nothing", "SAMD001.fa", 1, "", true},
		{"strip equals depth", "serratia/SAMD001.fa", 2, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputKey(tt.member, tt.strip)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafePath) {
					t.Errorf("OutputKey(%q, %d): expected ErrUnsafePath, got %v", tt.member, tt.strip, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("OutputKey(%q, %d): %v", tt.member, tt.strip, err)
			}
			if got != tt.want {
				t.Errorf("OutputKey(%q, %d) = %q, want %q", tt.member, tt.strip, got, tt.want)
			}
		})
	}
}
