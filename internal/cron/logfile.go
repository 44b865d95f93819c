package cron

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/klauspost/compress/gzip"
)

// monthLayout is the per-month log file suffix (e.g. renewal_check_2026-08.log).
const monthLayout = "2006-01"

// logFilePattern matches "<job>_YYYY-MM.log" and captures the month.
var logFilePattern = regexp.MustCompile(`_(\d{4}-\d{2})\.log$`)

// OpenMonthlyLog opens (creating if needed) the append-mode log file for the
// given job and month. The caller must close the returned file.
func OpenMonthlyLog(dir, job string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s.log", job, now.UTC().Format(monthLayout))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", name, err)
	}
	return f, nil
}

// CompactOldLogs gzips this job's log files older than keepMonths completed
// months and removes the originals. Already-compressed files are left alone.
// Returns the number of files compacted.
func CompactOldLogs(dir, job string, now time.Time, keepMonths int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading log directory %s: %w", dir, err)
	}

	if keepMonths < 1 {
		keepMonths = 1
	}
	cutoff := now.UTC().AddDate(0, -keepMonths, 0).Format(monthLayout)

	compacted := 0
	prefix := job + "_"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) < len(prefix) || name[:len(prefix)] != prefix {
			continue
		}
		m := logFilePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		// String comparison works because the layout is lexicographic.
		if m[1] >= cutoff {
			continue
		}

		src := filepath.Join(dir, name)
		if err := gzipFile(src); err != nil {
			return compacted, fmt.Errorf("compacting %s: %w", name, err)
		}
		if err := os.Remove(src); err != nil {
			return compacted, fmt.Errorf("removing compacted %s: %w", name, err)
		}
		compacted++
	}

	return compacted, nil
}

// gzipFile writes <path>.gz next to the original.
func gzipFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}
