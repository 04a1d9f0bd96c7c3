package step

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReplayResult is the outcome of replaying a cached stage execution.
type ReplayResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Hash     StepHash

	// ArtifactsRestored counts the artifacts actually written back to the
	// workspace; artifacts already present with matching content are left
	// alone and not counted.
	ArtifactsRestored int
}

// Replayer restores cached execution results into the workspace.
//
// Replay is bit-for-bit: stdout, stderr, exit code, and artifact contents
// are returned exactly as cached.
type Replayer struct {
	// WorkDir is the directory artifacts are restored into.
	WorkDir string
}

// NewReplayer creates a Replayer rooted at workDir.
func NewReplayer(workDir string) *Replayer {
	return &Replayer{WorkDir: workDir}
}

// Replay restores the entry's artifacts and returns its captured streams
// and exit code.
func (r *Replayer) Replay(entry *CacheEntry) (*ReplayResult, error) {
	if entry == nil {
		return nil, fmt.Errorf("cache entry is nil")
	}

	restored, err := r.RestoreArtifacts(entry.Hash.String(), entry)
	if err != nil {
		return nil, err
	}

	return &ReplayResult{
		Stdout:            entry.Stdout,
		Stderr:            entry.Stderr,
		ExitCode:          entry.ExitCode,
		Hash:              entry.Hash,
		ArtifactsRestored: restored,
	}, nil
}

// RestoreArtifacts ensures every cached artifact exists in the workspace
// with the correct content hash, rewriting mismatched or missing files with
// an atomic write-then-rename. stepID is used only in error messages.
func (r *Replayer) RestoreArtifacts(stepID string, entry *CacheEntry) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("replayer is nil")
	}
	if entry == nil {
		return 0, fmt.Errorf("cache entry is nil")
	}

	restored := 0
	for _, artifact := range entry.Artifacts {
		if artifact.Path == "" {
			return restored, fmt.Errorf("step %q: artifact path is empty", stepID)
		}
		if artifact.Content == nil {
			return restored, fmt.Errorf("step %q: artifact %q missing content in cache entry", stepID, artifact.Path)
		}

		targetPath, err := r.targetPath(artifact.Path)
		if err != nil {
			return restored, fmt.Errorf("step %q: resolving artifact %q target path: %w", stepID, artifact.Path, err)
		}

		wantHash := sha256Hex(artifact.Content)
		haveHash, exists, err := fileSHA256HexIfExists(targetPath)
		if err != nil {
			return restored, fmt.Errorf("step %q: hashing existing artifact %q: %w", stepID, artifact.Path, err)
		}
		if exists && haveHash == wantHash {
			continue
		}

		if err := writeFileAtomic(targetPath, artifact.Content, 0644); err != nil {
			return restored, fmt.Errorf("step %q: restoring artifact %q: %w", stepID, artifact.Path, err)
		}
		restored++
	}

	return restored, nil
}

func (r *Replayer) targetPath(artifactPath string) (string, error) {
	targetPath := artifactPath
	if !filepath.IsAbs(artifactPath) {
		targetPath = filepath.Join(r.WorkDir, artifactPath)
	}
	targetPath = filepath.FromSlash(targetPath)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	return targetPath, nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func fileSHA256HexIfExists(path string) (hash string, exists bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", true, err
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}
