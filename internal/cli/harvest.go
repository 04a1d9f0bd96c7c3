package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"sarpipe/internal/artifact"
	"sarpipe/internal/recovery/state"
)

// HarvestOptions configures one artifact collection pass.
type HarvestOptions struct {
	// Dir is the directory searched for artifacts. Must be absolute.
	Dir string

	// Patterns override the default image globs.
	Patterns []string

	// BundleName names the bundle file written into Dir. Defaults to
	// artifacts.tar.gz, with the manifest alongside it.
	BundleName string

	// RunID tags the bundle. A fresh one is generated when empty.
	RunID string

	// Publisher uploads the bundle and files when set.
	Publisher *artifact.Publisher

	Logger *zap.Logger
	Stdout io.Writer
}

func (o *HarvestOptions) normalize() error {
	if o.Dir == "" || !filepath.IsAbs(o.Dir) {
		return invalidInvocationf("harvest directory must be absolute (got %q)", o.Dir)
	}
	if o.BundleName == "" {
		o.BundleName = "artifacts.tar.gz"
	}
	if o.RunID == "" {
		id, err := state.NewRunID()
		if err != nil {
			return fmt.Errorf("generate run ID: %w", err)
		}
		o.RunID = id
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	return nil
}

// RunHarvest collects the plot images under a directory, writes a
// deterministic bundle plus manifest, and optionally publishes both.
// Zero matching files is a pipeline failure: a run without plots did not
// do its job even if every stage exited zero.
func RunHarvest(ctx context.Context, opts HarvestOptions) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	collector := &artifact.Collector{
		Dir:      opts.Dir,
		Patterns: opts.Patterns,
		Logger:   opts.Logger,
	}
	files, err := collector.Collect()
	if err != nil {
		return &PipelineError{FailedStages: []string{"harvest"}}
	}

	bundlePath := filepath.Join(opts.Dir, opts.BundleName)
	manifest, err := artifact.Bundle(opts.RunID, files, bundlePath)
	if err != nil {
		return err
	}
	if err := artifact.WriteManifest(manifest, bundlePath+".manifest.json"); err != nil {
		return err
	}

	var total int64
	for _, f := range files {
		fmt.Fprintf(opts.Stdout, "%s\t%s\n", f.Name, humanize.Bytes(uint64(f.Size)))
		total += f.Size
	}
	fmt.Fprintf(opts.Stdout, "bundled %d artifacts (%s) into %s\n",
		len(files), humanize.Bytes(uint64(total)), bundlePath)

	if opts.Publisher != nil {
		if err := opts.Publisher.Publish(ctx, opts.RunID, bundlePath, files); err != nil {
			return configErrf(err, "publish artifacts: %v", err)
		}
		fmt.Fprintf(opts.Stdout, "published run %s\n", opts.RunID)
	}
	return nil
}
