package pipeline

import (
	"context"
	"fmt"

	"sarpipe/internal/step"
)

// StageResult is the deterministic outcome of executing (or replaying) a
// single stage.
type StageResult struct {
	Hash step.StepHash

	Stdout   []byte
	Stderr   []byte
	ExitCode int

	FromCache         bool
	ArtifactsRestored int
}

// StageRunner executes a single stage.
//
// A nonzero ExitCode in the result is a stage failure; a non-nil error is
// an infrastructure failure (e.g. the shell could not be started).
type StageRunner interface {
	// Probe checks whether the stage can be satisfied from cache. When
	// cached is true, result is non-nil and FromCache is true.
	Probe(ctx context.Context, st step.Step) (result *StageResult, cached bool, err error)

	Run(ctx context.Context, st step.Step) (*StageResult, error)
}

// CachedStepRunner adapts step.Runner to the graph executor: it computes
// the step hash, probes the cache, replays artifacts on hits, and executes
// and caches on misses.
type CachedStepRunner struct {
	Runner *step.Runner
}

// NewCachedStepRunner wraps a step.Runner.
func NewCachedStepRunner(r *step.Runner) (*CachedStepRunner, error) {
	if r == nil {
		return nil, fmt.Errorf("nil step runner")
	}
	return &CachedStepRunner{Runner: r}, nil
}

// Probe resolves inputs, computes the hash, and replays the cached result
// when one exists. The stage is never executed.
func (r *CachedStepRunner) Probe(ctx context.Context, st step.Step) (*StageResult, bool, error) {
	inputSet, err := r.Runner.Resolver.Resolve(st.Inputs)
	if err != nil {
		return nil, false, fmt.Errorf("resolving inputs: %w", err)
	}

	hash := r.Runner.Hasher.ComputeHash(step.HashComponents{
		Inputs:  inputSet,
		Command: st.Run,
		Env:     st.Env,
		Outputs: st.Outputs,
		WorkDir: r.Runner.WorkDir,
	})

	entry, err := r.Runner.Cache.Get(hash)
	if err != nil {
		return nil, false, fmt.Errorf("probing cache: %w", err)
	}
	if entry == nil {
		return nil, false, nil
	}

	replayed, err := r.Runner.Replayer.Replay(entry)
	if err != nil {
		return nil, false, fmt.Errorf("replaying cached result: %w", err)
	}

	return &StageResult{
		Hash:              hash,
		Stdout:            replayed.Stdout,
		Stderr:            replayed.Stderr,
		ExitCode:          replayed.ExitCode,
		FromCache:         true,
		ArtifactsRestored: replayed.ArtifactsRestored,
	}, true, nil
}

// Run executes the stage through the underlying runner (which itself may
// hit the cache).
func (r *CachedStepRunner) Run(ctx context.Context, st step.Step) (*StageResult, error) {
	res, err := r.Runner.Run(ctx, &st)
	if err != nil {
		return nil, err
	}
	return &StageResult{
		Hash:              res.Hash,
		Stdout:            res.Stdout,
		Stderr:            res.Stderr,
		ExitCode:          res.ExitCode,
		FromCache:         res.FromCache,
		ArtifactsRestored: res.ArtifactsRestored,
	}, nil
}
