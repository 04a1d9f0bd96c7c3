package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sarpipe/internal/dataset"
	"sarpipe/internal/notebook"
	"sarpipe/internal/pipeline"
	"sarpipe/internal/step"
)

// KindRunner dispatches stage execution by kind. Shell stages (including
// the synthesized toolchain stages) go through the caching step runner;
// dataset and notebook stages execute natively.
type KindRunner struct {
	Defs      map[string]StageDef
	Steps     pipeline.StageRunner
	Datasets  *dataset.Manager
	Notebooks *notebook.Transformer
	Logger    *zap.Logger

	hasher *step.StepHasher
}

func NewKindRunner(plan *Plan, steps pipeline.StageRunner, datasets *dataset.Manager, logger *zap.Logger) (*KindRunner, error) {
	if plan == nil {
		return nil, errors.New("plan is required")
	}
	if steps == nil {
		return nil, errors.New("step runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KindRunner{
		Defs:      plan.Defs,
		Steps:     steps,
		Datasets:  datasets,
		Notebooks: notebook.NewTransformer(),
		Logger:    logger,
		hasher:    step.NewStepHasher(),
	}, nil
}

// Probe checks the cache for shell and notebook stages. Dataset stages
// are never cached: the archive on disk is the source of truth and the
// manager already skips downloads it can verify.
func (r *KindRunner) Probe(ctx context.Context, st step.Step) (*pipeline.StageResult, bool, error) {
	def, ok := r.Defs[st.Name]
	if ok && kindOf(def) == KindDataset {
		return nil, false, nil
	}
	return r.Steps.Probe(ctx, st)
}

func (r *KindRunner) Run(ctx context.Context, st step.Step) (*pipeline.StageResult, error) {
	def, ok := r.Defs[st.Name]
	if !ok {
		return r.Steps.Run(ctx, st)
	}

	switch kindOf(def) {
	case KindDataset:
		return r.runDataset(ctx, st, def)
	case KindNotebook:
		return r.runNotebook(ctx, st, def)
	default:
		return r.Steps.Run(ctx, st)
	}
}

func (r *KindRunner) runDataset(ctx context.Context, st step.Step, def StageDef) (*pipeline.StageResult, error) {
	if r.Datasets == nil {
		return nil, fmt.Errorf("stage %q: no dataset manager configured", st.Name)
	}
	hash := r.hasher.ComputeHash(step.HashComponents{
		Command: st.Run,
		Env:     st.Env,
	})

	report, err := r.Datasets.Acquire(ctx, *def.Dataset)
	if err != nil {
		return nil, fmt.Errorf("stage %q: %w", st.Name, err)
	}
	r.Logger.Info("dataset acquired",
		zap.String("stage", st.Name),
		zap.String("source", def.Dataset.Source))
	return &pipeline.StageResult{
		Hash:   hash,
		Stdout: []byte(report.String()),
	}, nil
}

func (r *KindRunner) runNotebook(ctx context.Context, st step.Step, def StageDef) (*pipeline.StageResult, error) {
	if err := r.Notebooks.TransformFile(def.Notebook.Source, def.Notebook.Output); err != nil {
		return nil, fmt.Errorf("stage %q: %w", st.Name, err)
	}
	r.Logger.Debug("notebook converted",
		zap.String("stage", st.Name),
		zap.String("source", def.Notebook.Source),
		zap.String("output", def.Notebook.Output))
	return r.Steps.Run(ctx, st)
}
