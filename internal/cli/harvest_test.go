package cli

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sarpipe/internal/artifact"
)

func TestRunHarvestBundlesImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "phase.jpg"), "phase")
	writeFile(t, filepath.Join(dir, "corr.jpg"), "corr")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	var out bytes.Buffer
	err := RunHarvest(context.Background(), HarvestOptions{
		Dir:    dir,
		RunID:  "run-1",
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("RunHarvest: %v", err)
	}

	bundlePath := filepath.Join(dir, "artifacts.tar.gz")
	f, err := os.Open(bundlePath)
	if err != nil {
		t.Fatalf("Open bundle: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar: %v", err)
		}
		names = append(names, hdr.Name)
	}
	if len(names) != 2 || names[0] != "corr.jpg" || names[1] != "phase.jpg" {
		t.Fatalf("bundle entries = %v, want [corr.jpg phase.jpg]", names)
	}

	data, err := os.ReadFile(bundlePath + ".manifest.json")
	if err != nil {
		t.Fatalf("ReadFile manifest: %v", err)
	}
	var m artifact.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal manifest: %v", err)
	}
	if m.RunID != "run-1" {
		t.Fatalf("manifest run_id = %q, want run-1", m.RunID)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("manifest entries = %d, want 2", len(m.Entries))
	}

	if !strings.Contains(out.String(), "bundled 2 artifacts") {
		t.Fatalf("stdout = %q, missing bundle summary", out.String())
	}
}

func TestRunHarvestNoMatchesFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "no plots here")

	err := RunHarvest(context.Background(), HarvestOptions{Dir: dir})
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("err = %v, want PipelineError", err)
	}
	if ExitCodeFor(err) != ExitPipelineFailure {
		t.Fatalf("exit code = %d, want %d", ExitCodeFor(err), ExitPipelineFailure)
	}
}

func TestRunHarvestCollectsOneLevelDown(t *testing.T) {
	dir := t.TempDir()
	sceneDir := filepath.Join(dir, "scene1")
	if err := os.MkdirAll(sceneDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeFile(t, filepath.Join(sceneDir, "unwrap.jpg"), "unwrap")

	err := RunHarvest(context.Background(), HarvestOptions{Dir: dir, RunID: "run-2"})
	if err != nil {
		t.Fatalf("RunHarvest: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "artifacts.tar.gz")); err != nil {
		t.Fatalf("bundle missing: %v", err)
	}
}

func TestRunHarvestRejectsRelativeDir(t *testing.T) {
	err := RunHarvest(context.Background(), HarvestOptions{Dir: "relative/dir"})
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("err = %v, want InvocationError", err)
	}
}

func TestRunHarvestGeneratesRunID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "phase.jpg"), "phase")

	if err := RunHarvest(context.Background(), HarvestOptions{Dir: dir}); err != nil {
		t.Fatalf("RunHarvest: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "artifacts.tar.gz.manifest.json"))
	if err != nil {
		t.Fatalf("ReadFile manifest: %v", err)
	}
	var m artifact.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal manifest: %v", err)
	}
	if len(m.RunID) != 32 {
		t.Fatalf("run_id = %q, want generated 32-char ID", m.RunID)
	}
}
