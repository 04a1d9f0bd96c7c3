package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"sarpipe/internal/dataset"
	"sarpipe/internal/step"
)

// SuccessMarker is printed verbatim after a dataset test run exits zero.
// CI log scrapers match on it.
const SuccessMarker = "SUCCESS"

// DatasetOptions configures one dataset test run.
type DatasetOptions struct {
	// Source is the dataset archive URL or object-store location.
	Source string

	// DeleteArchive removes the downloaded archive after extraction.
	DeleteArchive bool

	// WorkDir is where the dataset is unpacked and the script runs.
	// Must be absolute.
	WorkDir string

	// Script is the test script to execute after the dataset is in
	// place. Defaults to the archive's base name with a .py extension.
	Script string

	// Interpreter runs the script. Defaults to python3.
	Interpreter string

	// StaleGlobs are removed from WorkDir before the run. Defaults to
	// leftover plot images.
	StaleGlobs []string

	// ToolchainBin is the installed toolchain's bin directory, prepended
	// to the test script's PATH so the processing binaries resolve.
	ToolchainBin string

	Manager *dataset.Manager
	Logger  *zap.Logger
	Stdout  io.Writer
}

func (o *DatasetOptions) normalize() error {
	if strings.TrimSpace(o.Source) == "" {
		return invalidInvocationf("dataset source is required")
	}
	if o.WorkDir == "" || !filepath.IsAbs(o.WorkDir) {
		return invalidInvocationf("workdir must be absolute (got %q)", o.WorkDir)
	}
	if o.Manager == nil {
		return invalidInvocationf("dataset manager is required")
	}
	if o.Script == "" {
		o.Script = scriptForSource(o.Source)
	}
	if o.Interpreter == "" {
		o.Interpreter = "python3"
	}
	if o.StaleGlobs == nil {
		o.StaleGlobs = []string{"*.jpg"}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	return nil
}

// RunDataset downloads and unpacks a dataset, prints the disk report,
// runs the matching test script, and prints the success marker when the
// script exits zero. A nonzero script exit is a pipeline failure.
func RunDataset(ctx context.Context, opts DatasetOptions) error {
	if err := opts.normalize(); err != nil {
		return err
	}

	spec := dataset.Spec{
		Source:           opts.Source,
		Dir:              opts.WorkDir,
		KeepArchive:      !opts.DeleteArchive,
		StaleOutputGlobs: opts.StaleGlobs,
	}
	report, err := opts.Manager.Acquire(ctx, spec)
	if err != nil {
		return configErrf(err, "acquire dataset: %v", err)
	}
	fmt.Fprintln(opts.Stdout, report.String())

	// The test script calls the processing binaries and the orbit lookup:
	// it gets the toolchain on PATH, the host PATH and HOME behind it, and
	// a raised descriptor limit.
	executor := &step.Executor{
		WorkDir:     opts.WorkDir,
		PathPrepend: toolchainPath(opts.ToolchainBin),
		Passthrough: []string{"HOME", "PATH"},
		NoFileLimit: step.DefaultNoFileLimit,
	}
	command := opts.Interpreter + " " + opts.Script
	opts.Logger.Info("running dataset test script",
		zap.String("script", opts.Script),
		zap.String("interpreter", opts.Interpreter))

	st := step.Step{Name: "dataset-test", Run: command}
	res, err := executor.Execute(ctx, &st, "")
	if err != nil {
		return err
	}
	opts.Stdout.Write(res.Stdout)
	if res.ExitCode != 0 {
		opts.Stdout.Write(res.Stderr)
		return &PipelineError{FailedStages: []string{"dataset-test"}}
	}
	fmt.Fprintln(opts.Stdout, SuccessMarker)
	return nil
}

// scriptForSource derives the fixed test script name from the archive:
// the base name without archive extensions, plus .py.
func scriptForSource(source string) string {
	base := filepath.Base(source)
	for _, suffix := range []string{".tar.gz", ".tgz", ".tar", ".gz", ".zip"} {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			break
		}
	}
	return base + ".py"
}
