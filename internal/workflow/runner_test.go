package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sarpipe/internal/dataset"
	"sarpipe/internal/pipeline"
	"sarpipe/internal/step"
)

type recordingStepRunner struct {
	probed []string
	ran    []string
}

func (r *recordingStepRunner) Probe(ctx context.Context, st step.Step) (*pipeline.StageResult, bool, error) {
	r.probed = append(r.probed, st.Name)
	return nil, false, nil
}

func (r *recordingStepRunner) Run(ctx context.Context, st step.Step) (*pipeline.StageResult, error) {
	r.ran = append(r.ran, st.Name)
	return &pipeline.StageResult{Hash: "h", ExitCode: 0}, nil
}

func TestKindRunnerDelegatesShellStages(t *testing.T) {
	steps := &recordingStepRunner{}
	r, err := NewKindRunner(&Plan{Defs: map[string]StageDef{}}, steps, nil, nil)
	require.NoError(t, err)

	st := step.Step{Name: "report", Run: "ls"}
	_, _, err = r.Probe(context.Background(), st)
	require.NoError(t, err)
	_, err = r.Run(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, []string{"report"}, steps.probed)
	assert.Equal(t, []string{"report"}, steps.ran)
}

func TestKindRunnerDatasetNeverProbesCache(t *testing.T) {
	steps := &recordingStepRunner{}
	defs := map[string]StageDef{
		"fetch": {Name: "fetch", Kind: KindDataset, Dataset: &dataset.Spec{
			Source: "https://example.com/stack.tar.gz",
			Dir:    "data",
		}},
	}
	r, err := NewKindRunner(&Plan{Defs: defs}, steps, nil, nil)
	require.NoError(t, err)

	_, cached, err := r.Probe(context.Background(), step.Step{Name: "fetch"})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Empty(t, steps.probed)
}

func TestKindRunnerDatasetWithoutManager(t *testing.T) {
	defs := map[string]StageDef{
		"fetch": {Name: "fetch", Kind: KindDataset, Dataset: &dataset.Spec{
			Source: "https://example.com/stack.tar.gz",
			Dir:    "data",
		}},
	}
	r, err := NewKindRunner(&Plan{Defs: defs}, &recordingStepRunner{}, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), step.Step{Name: "fetch", Run: "dataset acquire x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dataset manager")
}

func TestKindRunnerNotebookTransformsThenRuns(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "valley.py")
	out := filepath.Join(dir, "valley_ci.py")
	script := "import os\n\nusername = 'GoogleColab2023'\nprint('SUCCESS')\n"
	require.NoError(t, os.WriteFile(src, []byte(script), 0o644))

	steps := &recordingStepRunner{}
	defs := map[string]StageDef{
		"process": {Name: "process", Kind: KindNotebook, Notebook: &NotebookSpec{
			Source: src,
			Output: out,
		}},
	}
	r, err := NewKindRunner(&Plan{Defs: defs}, steps, nil, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background(), step.Step{Name: "process", Run: "python3 " + out})
	require.NoError(t, err)

	converted, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(converted), "if __name__ == '__main__':")
	assert.Equal(t, []string{"process"}, steps.ran)
}
