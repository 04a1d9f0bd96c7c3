package step

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// InputResolver expands declared input patterns into a deterministic
// InputSet.
//
// Glob expansion is strictly sorted and content-based: directory listing
// order on the host filesystem never affects hashing or execution.
type InputResolver struct {
	// BaseDir anchors relative patterns.
	BaseDir string
}

// NewInputResolver creates an InputResolver rooted at baseDir.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands all patterns and returns the sorted, deduplicated,
// content-loaded input set.
//
// Resolution:
//  1. Each pattern expands via filepath.Glob (literal paths allowed).
//  2. Paths are normalized to forward slashes.
//  3. The union is sorted lexicographically with duplicates removed.
//  4. File contents are read; metadata is ignored.
func (r *InputResolver) Resolve(patterns []string) (*InputSet, error) {
	if len(patterns) == 0 {
		return &InputSet{Inputs: []Input{}}, nil
	}

	pathSet := make(map[string]struct{})
	for _, pattern := range patterns {
		expanded, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, p := range expanded {
			pathSet[p] = struct{}{}
		}
	}

	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	inputs := make([]Input, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(filepath.FromSlash(path))
		if err != nil {
			return nil, fmt.Errorf("reading input %q: %w", path, err)
		}
		inputs = append(inputs, Input{Path: path, Content: content})
	}

	return &InputSet{Inputs: inputs}, nil
}

func (r *InputResolver) expandPattern(pattern string) ([]string, error) {
	fullPattern := pattern
	if !filepath.IsAbs(pattern) {
		fullPattern = filepath.Join(r.BaseDir, pattern)
	}

	matches, err := filepath.Glob(fullPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}

	// A non-glob pattern naming an existing file is a literal path.
	if len(matches) == 0 && !containsGlobChar(pattern) {
		if _, err := os.Stat(fullPattern); err == nil {
			matches = []string{fullPattern}
		}
	}

	normalized := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", match, err)
		}
		if info.IsDir() {
			continue
		}
		normalized = append(normalized, filepath.ToSlash(match))
	}

	return normalized, nil
}

func containsGlobChar(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
