// Package artifact collects, bundles, and publishes run outputs.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

// DefaultPatterns matches the image plots the processing scripts emit.
var DefaultPatterns = []string{"*.jpg"}

// Collected is one matched artifact file.
type Collected struct {
	// Path is the absolute location on disk.
	Path string

	// Name is the path relative to the collection root, used as the
	// bundle entry and object key suffix.
	Name string

	Size int64
}

// Collector finds run outputs under a directory.
type Collector struct {
	// Dir is the collection root.
	Dir string

	// Patterns are glob patterns relative to Dir. Empty means
	// DefaultPatterns. Patterns apply at the root and one directory
	// level down, which covers per-scene output layouts.
	Patterns []string

	Logger *zap.Logger
}

// Collect returns all matches sorted by Name. Zero matches is an error:
// a run that produced no plots failed even when every stage exited zero.
func (c *Collector) Collect() ([]Collected, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	patterns := c.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	seen := map[string]bool{}
	var out []Collected
	for _, pattern := range patterns {
		for _, p := range []string{
			filepath.Join(c.Dir, pattern),
			filepath.Join(c.Dir, "*", pattern),
		} {
			matches, err := filepath.Glob(p)
			if err != nil {
				return nil, fmt.Errorf("matching artifacts %q: %w", pattern, err)
			}
			for _, m := range matches {
				if seen[m] {
					continue
				}
				seen[m] = true

				info, err := os.Stat(m)
				if err != nil {
					return nil, fmt.Errorf("collecting artifact %s: %w", m, err)
				}
				if info.IsDir() {
					continue
				}
				rel, err := filepath.Rel(c.Dir, m)
				if err != nil {
					return nil, fmt.Errorf("collecting artifact %s: %w", m, err)
				}
				out = append(out, Collected{Path: m, Name: rel, Size: info.Size()})
			}
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no artifacts matching %v under %s", patterns, c.Dir)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	logger.Info("artifacts collected",
		zap.String("dir", c.Dir),
		zap.Int("count", len(out)))
	return out, nil
}
