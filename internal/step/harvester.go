package step

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// OutputNormalizer rewrites captured content to remove nondeterministic
// data before it is hashed or cached.
type OutputNormalizer interface {
	Normalize(content []byte) []byte
}

// Harvester collects artifacts from declared output paths after a stage
// completes.
//
// Only declared outputs are captured. The harvester never scans for
// "modified files": the processing toolchain scatters scratch grids through
// the working tree, and none of them belong in the artifact set.
type Harvester struct {
	// BaseDir anchors relative output paths.
	BaseDir string

	// Normalizer, when non-nil, is applied to every artifact's content.
	Normalizer OutputNormalizer
}

// NewHarvester creates a Harvester with no normalization.
func NewHarvester(baseDir string) *Harvester {
	return &Harvester{BaseDir: baseDir}
}

// NewHarvesterWithNormalizer creates a Harvester that normalizes artifact
// content.
func NewHarvesterWithNormalizer(baseDir string, normalizer OutputNormalizer) *Harvester {
	return &Harvester{BaseDir: baseDir, Normalizer: normalizer}
}

// Harvest collects the declared outputs into a sorted ArtifactSet.
//
// A declared output that does not exist is an error: the stage claimed to
// produce it and did not. Directories are collected recursively.
func (h *Harvester) Harvest(declaredOutputs []string) (*ArtifactSet, error) {
	if len(declaredOutputs) == 0 {
		return &ArtifactSet{Artifacts: []Artifact{}}, nil
	}

	var allPaths []string
	for _, output := range declaredOutputs {
		fullPath := output
		if !filepath.IsAbs(output) {
			fullPath = filepath.Join(h.BaseDir, output)
		}

		info, err := os.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("declared output does not exist: %s", output)
			}
			return nil, fmt.Errorf("stat output %q: %w", output, err)
		}

		if info.IsDir() {
			files, err := collectFiles(fullPath)
			if err != nil {
				return nil, fmt.Errorf("collecting files from %q: %w", output, err)
			}
			allPaths = append(allPaths, files...)
		} else {
			allPaths = append(allPaths, fullPath)
		}
	}

	sort.Strings(allPaths)
	allPaths = dedupeSorted(allPaths)

	artifacts := make([]Artifact, 0, len(allPaths))
	for _, path := range allPaths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %q: %w", path, err)
		}
		if h.Normalizer != nil {
			content = h.Normalizer.Normalize(content)
		}
		artifacts = append(artifacts, Artifact{
			Path:    filepath.ToSlash(path),
			Content: content,
		})
	}

	return &ArtifactSet{Artifacts: artifacts}, nil
}

func collectFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func dedupeSorted(sorted []string) []string {
	if len(sorted) == 0 {
		return sorted
	}
	result := sorted[:1]
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
