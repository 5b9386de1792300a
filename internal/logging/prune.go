package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Prune removes daily log files in dir whose date stamp is more than
// retentionDays before now. Files that don't follow the naming scheme are left
// alone. It returns the removed paths.
func Prune(dir string, retentionDays int, now time.Time) ([]string, error) {
	if dir == "" {
		return nil, errors.New("log directory not configured")
	}
	if retentionDays < 0 {
		return nil, fmt.Errorf("retention days cannot be negative: %d", retentionDays)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := today.AddDate(0, 0, -retentionDays)

	var removed []string
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		stamp, err := time.Parse(FileDateLayout, strings.TrimSuffix(entry.Name(), ".log"))
		if err != nil {
			continue
		}
		if !stamp.Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, path)
	}

	return removed, errors.Join(errs...)
}
