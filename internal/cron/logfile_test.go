package cron

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestOpenMonthlyLogNamesFileByJobAndMonth(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)

	f, err := OpenMonthlyLog(dir, "renewal_check", now)
	if err != nil {
		t.Fatalf("OpenMonthlyLog: %v", err)
	}
	defer f.Close()

	want := filepath.Join(dir, "renewal_check_2026-08.log")
	if f.Name() != want {
		t.Errorf("log file = %s, want %s", f.Name(), want)
	}
}

func TestOpenMonthlyLogAppends(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for _, line := range []string{"first\n", "second\n"} {
		f, err := OpenMonthlyLog(dir, "job", now)
		if err != nil {
			t.Fatalf("OpenMonthlyLog: %v", err)
		}
		if _, err := f.WriteString(line); err != nil {
			t.Fatalf("write: %v", err)
		}
		f.Close()
	}

	data, err := os.ReadFile(filepath.Join(dir, "job_2026-08.log"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "first\nsecond\n" {
		t.Errorf("content = %q, want both lines appended", data)
	}
}

func TestCompactOldLogsGzipsOlderMonths(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("renewal_check_2026-05.log", "old may\n")
	write("renewal_check_2026-06.log", "old june\n")
	write("renewal_check_2026-07.log", "recent july\n")
	write("renewal_check_2026-08.log", "current august\n")
	write("subscription_check_2026-05.log", "other job\n")

	now := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	compacted, err := CompactOldLogs(dir, "renewal_check", now, 1)
	if err != nil {
		t.Fatalf("CompactOldLogs: %v", err)
	}
	if compacted != 2 {
		t.Fatalf("compacted = %d, want 2 (may + june)", compacted)
	}

	// Compacted months: original gone, .gz present and readable.
	for _, month := range []string{"2026-05", "2026-06"} {
		orig := filepath.Join(dir, "renewal_check_"+month+".log")
		if _, err := os.Stat(orig); !os.IsNotExist(err) {
			t.Errorf("original %s still present", orig)
		}
		gzPath := orig + ".gz"
		f, err := os.Open(gzPath)
		if err != nil {
			t.Fatalf("open %s: %v", gzPath, err)
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip reader for %s: %v", gzPath, err)
		}
		if _, err := io.ReadAll(gz); err != nil {
			t.Errorf("decompress %s: %v", gzPath, err)
		}
		gz.Close()
		f.Close()
	}

	// Recent months and other jobs untouched.
	for _, name := range []string{
		"renewal_check_2026-07.log",
		"renewal_check_2026-08.log",
		"subscription_check_2026-05.log",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s should be untouched: %v", name, err)
		}
	}
}

func TestCompactOldLogsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "job_2026-01.log"), []byte("x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if _, err := CompactOldLogs(dir, "job", now, 1); err != nil {
		t.Fatalf("first compaction: %v", err)
	}
	compacted, err := CompactOldLogs(dir, "job", now, 1)
	if err != nil {
		t.Fatalf("second compaction: %v", err)
	}
	if compacted != 0 {
		t.Errorf("second compaction compacted %d files, want 0", compacted)
	}
}

func TestCompactOldLogsMissingDirIsNoop(t *testing.T) {
	compacted, err := CompactOldLogs(filepath.Join(t.TempDir(), "nope"), "job", time.Now(), 1)
	if err != nil {
		t.Fatalf("CompactOldLogs on missing dir: %v", err)
	}
	if compacted != 0 {
		t.Errorf("compacted = %d, want 0", compacted)
	}
}
