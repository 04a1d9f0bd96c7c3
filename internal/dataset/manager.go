package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Spec declares one dataset acquisition.
type Spec struct {
	// Source is the archive location (http(s):// or s3://bucket/key).
	Source string `yaml:"source" json:"source"`

	// Checksum is the optional hex sha256 of the archive.
	Checksum string `yaml:"checksum,omitempty" json:"checksum,omitempty"`

	// Dir is the directory the archive is downloaded to and extracted in.
	Dir string `yaml:"dir" json:"dir"`

	// KeepArchive leaves the downloaded archive in place after
	// extraction. The default deletes it to reclaim disk.
	KeepArchive bool `yaml:"keep_archive,omitempty" json:"keep_archive,omitempty"`

	// StaleOutputGlobs are deleted from Dir before the dataset is used,
	// so leftover plots from a previous run cannot mask missing output.
	StaleOutputGlobs []string `yaml:"stale_output_globs,omitempty" json:"stale_output_globs,omitempty"`
}

// Manager runs the acquire flow: fetch, extract, clean up, report.
type Manager struct {
	Fetcher     *Fetcher
	ObjectStore *ObjectStore
	Extractor   *Extractor
	Logger      *zap.Logger
}

// NewManager wires a manager. ObjectStore may be nil when no s3://
// sources are configured.
func NewManager(fetcher *Fetcher, store *ObjectStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = NewFetcher(nil, logger)
	}
	return &Manager{
		Fetcher:     fetcher,
		ObjectStore: store,
		Extractor:   NewExtractor(logger),
		Logger:      logger,
	}
}

// Acquire fetches and extracts the dataset described by spec and returns
// a report of the resulting directory.
func (m *Manager) Acquire(ctx context.Context, spec Spec) (*Report, error) {
	src, err := ParseSource(spec.Source)
	if err != nil {
		return nil, err
	}
	if spec.Dir == "" {
		return nil, fmt.Errorf("dataset dir is required")
	}
	if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating dataset dir: %w", err)
	}

	if _, err := RemoveStaleOutputs(spec.Dir, spec.StaleOutputGlobs, m.Logger); err != nil {
		return nil, err
	}

	archive := filepath.Join(spec.Dir, src.Base())
	switch src.Kind {
	case SourceHTTP:
		if err := m.Fetcher.Fetch(ctx, src.URL, archive, spec.Checksum); err != nil {
			return nil, err
		}
	case SourceS3:
		if m.ObjectStore == nil {
			return nil, fmt.Errorf("s3 source %q requires object store configuration", spec.Source)
		}
		if err := m.ObjectStore.Fetch(ctx, src, archive); err != nil {
			return nil, err
		}
	}

	if err := m.Extractor.Extract(archive, spec.Dir); err != nil {
		return nil, err
	}

	if !spec.KeepArchive {
		if err := RemoveArchive(archive, m.Logger); err != nil {
			return nil, err
		}
	}

	report, err := BuildReport(spec.Dir)
	if err != nil {
		return nil, err
	}
	m.Logger.Info("dataset ready",
		zap.String("dir", spec.Dir),
		zap.Int("files", report.Files))
	return report, nil
}
