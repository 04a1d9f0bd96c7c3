package artifact

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestEntry describes one file inside a bundle.
type ManifestEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest lists a bundle's contents.
type Manifest struct {
	RunID   string          `json:"run_id"`
	Entries []ManifestEntry `json:"entries"`
}

// Bundle writes the collected artifacts into a deterministic tar.gz at
// dest and returns the manifest. Entries are written in collection order
// (already sorted by name) with zeroed timestamps and fixed ownership, so
// identical inputs produce byte-identical bundles.
func Bundle(runID string, files []Collected, dest string) (*Manifest, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("refusing to bundle zero artifacts")
	}

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("creating bundle: %w", err)
	}

	manifest, err := writeBundle(runID, files, out)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}
	if closeErr != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("flushing bundle: %w", closeErr)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("committing bundle: %w", err)
	}
	return manifest, nil
}

func writeBundle(runID string, files []Collected, out io.Writer) (*Manifest, error) {
	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip stream: %w", err)
	}
	tw := tar.NewWriter(gz)

	manifest := &Manifest{RunID: runID}
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("reading artifact %s: %w", f.Path, err)
		}
		sum := sha256.Sum256(data)

		hdr := &tar.Header{
			Name:     filepath.ToSlash(f.Name),
			Typeflag: tar.TypeReg,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  time.Unix(0, 0).UTC(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("writing bundle entry %s: %w", f.Name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return nil, fmt.Errorf("writing bundle entry %s: %w", f.Name, err)
		}

		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Name:   filepath.ToSlash(f.Name),
			Size:   int64(len(data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing bundle: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("closing bundle: %w", err)
	}
	return manifest, nil
}

// WriteManifest writes the manifest as indented JSON next to the bundle.
func WriteManifest(m *Manifest, dest string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
