package step

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Runner orchestrates single-stage execution with caching:
//
//  1. Resolve inputs and compute the step hash.
//  2. Probe the cache; on a hit, replay without executing.
//  3. On a miss, execute, harvest declared artifacts on success, and cache.
//
// Failed stages (nonzero exit) are cached without artifacts so they can be
// replayed deterministically but can never leave the workspace with a
// partial artifact set.
type Runner struct {
	// WorkDir is the stage execution directory.
	WorkDir string

	// Cache stores and retrieves execution results.
	Cache Cache

	// Executor runs stages in isolated environments.
	Executor *Executor

	// Resolver expands input patterns to files.
	Resolver *InputResolver

	// Hasher computes deterministic step hashes.
	Hasher *StepHasher

	// Harvester collects declared artifacts.
	Harvester *Harvester

	// Replayer restores cached results.
	Replayer *Replayer

	// Normalizer for output normalization (optional).
	Normalizer OutputNormalizer
}

// NewRunner creates a Runner with the given working directory and cache.
func NewRunner(workDir string, cache Cache) *Runner {
	return &Runner{
		WorkDir:   workDir,
		Cache:     cache,
		Executor:  NewExecutor(workDir),
		Resolver:  NewInputResolver(workDir),
		Hasher:    NewStepHasher(),
		Harvester: NewHarvester(workDir),
		Replayer:  NewReplayer(workDir),
	}
}

// NewRunnerWithNormalizer creates a Runner whose harvested artifacts are
// normalized before caching.
func NewRunnerWithNormalizer(workDir string, cache Cache, normalizer OutputNormalizer) *Runner {
	r := NewRunner(workDir, cache)
	r.Normalizer = normalizer
	r.Harvester = NewHarvesterWithNormalizer(workDir, normalizer)
	return r
}

// RunResult is the outcome of running (or replaying) one stage.
type RunResult struct {
	Hash     StepHash
	Stdout   []byte
	Stderr   []byte
	ExitCode int

	// FromCache reports whether the result was replayed rather than
	// executed.
	FromCache bool

	// ArtifactsRestored counts artifacts written back during replay.
	ArtifactsRestored int
}

// Run executes a step or replays it from cache.
func (r *Runner) Run(ctx context.Context, st *Step) (*RunResult, error) {
	if err := r.validate(st); err != nil {
		return nil, err
	}

	inputSet, err := r.Resolver.Resolve(st.Inputs)
	if err != nil {
		return nil, fmt.Errorf("resolving inputs: %w", err)
	}

	hash := r.Hasher.ComputeHash(HashComponents{
		Inputs:  inputSet,
		Command: st.Run,
		Env:     st.Env,
		Outputs: st.Outputs,
		WorkDir: r.WorkDir,
	})

	exists, err := r.Cache.Has(hash)
	if err != nil {
		return nil, fmt.Errorf("checking cache: %w", err)
	}
	if exists {
		return r.replayFromCache(hash)
	}

	return r.executeAndCache(ctx, st, hash)
}

func (r *Runner) validate(st *Step) error {
	if st == nil {
		return fmt.Errorf("step is nil")
	}
	if st.Name == "" {
		return fmt.Errorf("step name is required")
	}
	if st.Run == "" {
		return fmt.Errorf("step run command is required")
	}
	return nil
}

func (r *Runner) replayFromCache(hash StepHash) (*RunResult, error) {
	entry, err := r.Cache.Get(hash)
	if err != nil {
		return nil, fmt.Errorf("retrieving cache entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("cache entry disappeared")
	}

	replayResult, err := r.Replayer.Replay(entry)
	if err != nil {
		return nil, fmt.Errorf("replaying cached result: %w", err)
	}

	return &RunResult{
		Hash:              hash,
		Stdout:            replayResult.Stdout,
		Stderr:            replayResult.Stderr,
		ExitCode:          replayResult.ExitCode,
		FromCache:         true,
		ArtifactsRestored: replayResult.ArtifactsRestored,
	}, nil
}

func (r *Runner) executeAndCache(ctx context.Context, st *Step, hash StepHash) (*RunResult, error) {
	execResult, err := r.Executor.Execute(ctx, st, hash)
	if err != nil {
		return nil, fmt.Errorf("executing step: %w", err)
	}

	entry := &CacheEntry{
		Hash:     hash,
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
		ExitCode: execResult.ExitCode,
	}

	if execResult.ExitCode == 0 {
		artifacts, err := r.harvestArtifacts(st.Outputs)
		if err != nil {
			return nil, fmt.Errorf("harvesting artifacts: %w", err)
		}
		entry.Artifacts = artifacts
	} else {
		// Failure: the outputs may be incomplete, so none are captured.
		entry.Artifacts = []CachedArtifact{}
	}

	if err := r.Cache.Put(entry); err != nil {
		return nil, fmt.Errorf("caching result: %w", err)
	}

	return &RunResult{
		Hash:     hash,
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
		ExitCode: execResult.ExitCode,
	}, nil
}

func (r *Runner) harvestArtifacts(outputs []string) ([]CachedArtifact, error) {
	if len(outputs) == 0 {
		return []CachedArtifact{}, nil
	}

	artifactSet, err := r.Harvester.Harvest(outputs)
	if err != nil {
		return nil, err
	}

	cached := make([]CachedArtifact, len(artifactSet.Artifacts))
	for i, a := range artifactSet.Artifacts {
		cached[i] = CachedArtifact{Path: a.Path, Content: a.Content}
	}
	return cached, nil
}

// CleanArtifacts removes the declared outputs before execution, so a
// failing stage cannot be mistaken for a passing one because of stale
// images left by a previous run.
func (r *Runner) CleanArtifacts(outputs []string) error {
	for _, output := range outputs {
		fullPath := output
		if !filepath.IsAbs(output) {
			fullPath = filepath.Join(r.WorkDir, output)
		}
		if err := os.RemoveAll(fullPath); err != nil {
			return fmt.Errorf("removing %q: %w", output, err)
		}
	}
	return nil
}
