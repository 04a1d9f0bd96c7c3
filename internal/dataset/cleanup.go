package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// RemoveStaleOutputs deletes files under dir matching the glob patterns,
// typically image outputs from a previous run. It returns the removed
// paths in lexical order.
func RemoveStaleOutputs(dir string, patterns []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var removed []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("matching stale outputs %q: %w", pattern, err)
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				return nil, fmt.Errorf("removing stale output %s: %w", m, err)
			}
			removed = append(removed, m)
		}
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		logger.Info("removed stale outputs",
			zap.String("dir", dir),
			zap.Int("count", len(removed)))
	}
	return removed, nil
}

// RemoveArchive deletes the downloaded archive after extraction.
func RemoveArchive(path string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing archive: %w", err)
	}
	logger.Info("archive removed after extraction", zap.String("path", path))
	return nil
}
