package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"sarpipe/internal/dataset"
	"sarpipe/internal/pipeline"
	"sarpipe/internal/recovery/state"
	"sarpipe/internal/step"
	"sarpipe/internal/trace"
	"sarpipe/internal/workflow"
)

// RunOptions describes one pipeline invocation.
type RunOptions struct {
	// WorkflowPath is the workflow file to execute.
	WorkflowPath string

	// WorkDir anchors relative paths and holds the .sarpipe state tree.
	// Must be absolute.
	WorkDir string

	// CacheDir stores step cache entries. Defaults to
	// <WorkDir>/.sarpipe/cache.
	CacheDir string

	// Mode selects clean, incremental, or resume-only execution.
	Mode state.ExecutionMode

	// Jobs is the parallel stage limit. Zero or one runs serially.
	Jobs int

	// TracePath, when set, receives the canonical execution trace.
	TracePath string

	// ToolchainBin is a previously installed toolchain's bin directory,
	// prepended to every stage's PATH. A toolchain stage inside the
	// workflow contributes its own bin directory automatically.
	ToolchainBin string

	// Datasets acquires dataset stages. Optional when the workflow has
	// none.
	Datasets *dataset.Manager

	Logger *zap.Logger
}

func (o *RunOptions) normalize() error {
	if o.WorkflowPath == "" {
		return invalidInvocationf("workflow path is required")
	}
	if o.WorkDir == "" {
		return invalidInvocationf("workdir is required")
	}
	if !filepath.IsAbs(o.WorkDir) {
		return invalidInvocationf("workdir must be absolute (got %q)", o.WorkDir)
	}
	if o.CacheDir == "" {
		o.CacheDir = filepath.Join(o.WorkDir, ".sarpipe", "cache")
	}
	switch o.Mode {
	case "":
		o.Mode = state.ExecutionModeIncremental
	case state.ExecutionModeClean, state.ExecutionModeIncremental, state.ExecutionModeResumeOnly:
	default:
		return invalidInvocationf("invalid mode %q (expected clean|incremental|resume-only)", o.Mode)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return nil
}

// RunOutcome reports what one invocation did across all matrix cells.
type RunOutcome struct {
	ExitCode int
	Results  []*pipeline.GraphResult
}

// Run loads, compiles, and executes a workflow, one full pipeline per
// matrix combination, sequentially. The first failing combination stops
// the run.
func Run(ctx context.Context, opts RunOptions) (RunOutcome, error) {
	if err := opts.normalize(); err != nil {
		return RunOutcome{ExitCode: ExitCodeFor(err)}, err
	}

	doc, err := workflow.Load(opts.WorkflowPath)
	if err != nil {
		return RunOutcome{ExitCode: ExitCodeFor(err)}, err
	}

	outcome := RunOutcome{ExitCode: ExitSuccess}
	for _, combo := range workflow.Combinations(doc.Matrix) {
		specialized := workflow.ApplyCombination(doc, combo)
		res, err := runOne(ctx, opts, specialized, combo)
		if res != nil {
			outcome.Results = append(outcome.Results, res)
		}
		if err != nil {
			outcome.ExitCode = ExitCodeFor(err)
			return outcome, err
		}
	}
	return outcome, nil
}

// runOne executes one compiled pipeline and records its run state.
func runOne(ctx context.Context, opts RunOptions, doc *workflow.Document, combo workflow.Combination) (res *pipeline.GraphResult, runErr error) {
	logger := opts.Logger
	if combo.OS != "" || combo.Interpreter != "" {
		logger = logger.With(
			zap.String("matrix_os", combo.OS),
			zap.String("matrix_interpreter", combo.Interpreter))
	}

	store, err := state.NewStore(opts.WorkDir)
	if err != nil {
		return nil, configErrf(err, "state store: %v", err)
	}
	recorder, err := state.NewFailureRecorder(store)
	if err != nil {
		return nil, configErrf(err, "failure recorder: %v", err)
	}

	plan, err := workflow.Compile(doc, logger)
	if err != nil {
		recordOrphanFailure(recorder, opts.Mode, &state.GraphFailureError{
			Code: "SchemaViolation", Message: err.Error(), Cause: err,
		})
		return nil, err
	}
	graphHash := plan.Graph.Hash().String()

	cache, err := cacheForMode(opts.Mode, opts.CacheDir)
	if err != nil {
		recordOrphanFailure(recorder, opts.Mode, &state.WorkspaceFailureError{
			Code: "CacheDir", Message: err.Error(), Cause: err,
		})
		return nil, configErrf(err, "cache: %v", err)
	}

	stepRunner := step.NewRunner(opts.WorkDir, cache)
	// Stages run the processing scripts: they need the toolchain binaries
	// on PATH, HOME for the orbit lookup, and a raised descriptor limit.
	stepRunner.Executor.PathPrepend = toolchainPath(opts.ToolchainBin, plan.ToolchainBin)
	stepRunner.Executor.Passthrough = []string{"HOME"}
	stepRunner.Executor.NoFileLimit = step.DefaultNoFileLimit
	cachedRunner, err := pipeline.NewCachedStepRunner(stepRunner)
	if err != nil {
		return nil, err
	}
	kindRunner, err := workflow.NewKindRunner(plan, cachedRunner, opts.Datasets, logger)
	if err != nil {
		return nil, err
	}

	retryCount := 0
	var previousRunID *string
	if opts.Mode != state.ExecutionModeClean {
		prevID, retry, decision, err := checkResume(store, plan, graphHash, opts.Mode, stepRunner)
		if err != nil {
			return nil, err
		}
		if decision != nil && decision.Eligible {
			previousRunID = &prevID
			retryCount = retry
			logger.Info("resuming previous run",
				zap.String("previous_run_id", prevID),
				zap.Strings("reusable_stages", decision.ValidStages))
		} else if opts.Mode == state.ExecutionModeResumeOnly {
			reason := "no eligible previous run"
			if decision != nil {
				reason = decision.Reason
			}
			err := configErrf(nil, "resume-only: %s", reason)
			recordOrphanFailure(recorder, opts.Mode, &state.ExecutionFailureError{
				Code: "ResumeIneligible", Message: reason,
			})
			return nil, err
		}
	}

	run, err := recorder.StartRun(graphHash, opts.Mode, retryCount, previousRunID)
	if err != nil {
		return nil, configErrf(err, "start run: %v", err)
	}
	logger.Info("run started",
		zap.String("run_id", run.RunID),
		zap.String("graph_hash", graphHash),
		zap.String("mode", string(opts.Mode)))

	traceRecorder := trace.NewRecorder()
	observers := multiObserver{traceRecorder}
	if opts.Mode != state.ExecutionModeClean {
		validator, err := state.NewCheckpointValidator(store, cache, step.NewHarvester(opts.WorkDir))
		if err != nil {
			return nil, err
		}
		observers = append(observers, &checkpointObserver{
			runID:     run.RunID,
			graph:     plan.Graph,
			validator: validator,
			recorder:  traceRecorder,
			logger:    logger,
		})
	}

	exec, err := pipeline.NewExecutor(plan.Graph, kindRunner)
	if err != nil {
		return nil, err
	}
	exec.Observer = observers

	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("panic: %v", r)
			res = nil
			_, _ = recorder.RecordFailure(run, &state.SystemFailureError{
				Code: "Panic", Message: runErr.Error(), Cause: runErr,
			})
		}
	}()

	var result *pipeline.GraphResult
	if opts.Jobs > 1 {
		result, err = exec.RunParallel(ctx, opts.Jobs)
	} else {
		result, err = exec.RunSerial(ctx)
	}
	if err != nil {
		_, _ = recorder.RecordFailure(run, &state.SystemFailureError{
			Code: "EngineError", Message: err.Error(), Cause: err,
		})
		return nil, err
	}

	if err := writeTrace(store, run.RunID, opts.TracePath, result); err != nil {
		logger.Warn("trace not written", zap.Error(err))
	}

	if result.Failed() {
		failed := result.FailedStages()
		stage := ""
		if len(failed) > 0 {
			stage = failed[0]
		}
		_, _ = recorder.RecordFailure(run, &state.ExecutionFailureError{
			StageID: stage,
			Code:    "StageFailed",
			Message: fmt.Sprintf("stage %s exited %d", stage, result.ExitCode[stage]),
		})
		return result, &PipelineError{FailedStages: failed}
	}

	if _, err := recorder.FinishRun(run, state.RunStatusSucceeded); err != nil {
		logger.Warn("run status not persisted", zap.Error(err))
	}
	logger.Info("run succeeded",
		zap.String("run_id", run.RunID),
		zap.Int("stages", len(result.FinalState)))
	return result, nil
}

// checkResume finds the most recent failed run for this graph and checks
// whether the new run may resume from it. The returned retry count is the
// previous run's plus one.
func checkResume(store *state.Store, plan *workflow.Plan, graphHash string, mode state.ExecutionMode, runner *step.Runner) (string, int, *state.ResumeDecision, error) {
	prevID, err := latestFailedRun(store, graphHash)
	if err != nil || prevID == "" {
		return "", 0, nil, err
	}

	hashes, err := currentStepHashes(plan.Graph, runner)
	if err != nil {
		return "", 0, nil, err
	}

	candidate := state.Run{
		RunID:         "candidate",
		GraphHash:     graphHash,
		StartTime:     time.Now().UTC(),
		Mode:          mode,
		Status:        state.RunStatusRunning,
		PreviousRunID: &prevID,
	}
	prev, err := store.LoadRun(prevID)
	if err != nil {
		return "", 0, nil, err
	}
	candidate.RetryCount = prev.RetryCount + 1

	decision, err := state.CheckResumeEligibility(store, state.ResumeRequest{
		Run:        candidate,
		Graph:      plan.Graph,
		StepHashes: hashes,
	})
	if err != nil {
		return "", 0, nil, err
	}
	return prevID, candidate.RetryCount, &decision, nil
}

// latestFailedRun picks the most recent failed run matching graphHash,
// with run ID as a deterministic tiebreak.
func latestFailedRun(store *state.Store, graphHash string) (string, error) {
	ids, err := store.ListRunIDs()
	if err != nil {
		return "", err
	}
	var bestID string
	var bestTime time.Time
	for _, id := range ids {
		r, err := store.LoadRun(id)
		if err != nil {
			continue
		}
		if r.GraphHash != graphHash || r.Status != state.RunStatusFailed {
			continue
		}
		if bestID == "" || r.StartTime.After(bestTime) || (r.StartTime.Equal(bestTime) && r.RunID < bestID) {
			bestID = r.RunID
			bestTime = r.StartTime
		}
	}
	return bestID, nil
}

func currentStepHashes(g *pipeline.StageGraph, runner *step.Runner) (map[string]step.StepHash, error) {
	out := make(map[string]step.StepHash)
	for _, node := range g.Nodes() {
		inputSet, err := runner.Resolver.Resolve(node.Step.Inputs)
		if err != nil {
			// An unresolvable input means the stage cannot be reused;
			// leaving it out of the map invalidates its checkpoint.
			continue
		}
		out[node.Name] = runner.Hasher.ComputeHash(step.HashComponents{
			Inputs:  inputSet,
			Command: node.Step.Run,
			Env:     node.Step.Env,
			Outputs: node.Step.Outputs,
			WorkDir: runner.WorkDir,
		})
	}
	return out, nil
}

// toolchainPath merges the externally supplied toolchain bin directory
// with the one compiled from the workflow, dropping empties and
// duplicates, external first.
func toolchainPath(dirs ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, d := range dirs {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// recordOrphanFailure records a failure for an invocation that never got
// far enough to have a real run record.
func recordOrphanFailure(recorder *state.FailureRecorder, mode state.ExecutionMode, failure error) {
	run, err := recorder.StartRun("unresolved", mode, 0, nil)
	if err != nil {
		return
	}
	_, _ = recorder.RecordFailure(run, failure)
}

func cacheForMode(mode state.ExecutionMode, cacheDir string) (step.Cache, error) {
	if mode == state.ExecutionModeClean {
		return noCache{}, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return step.NewFileCache(cacheDir), nil
}

// noCache disables caching for clean mode.
type noCache struct{}

func (noCache) Has(step.StepHash) (bool, error)             { return false, nil }
func (noCache) Get(step.StepHash) (*step.CacheEntry, error) { return nil, nil }
func (noCache) Put(*step.CacheEntry) error                  { return nil }

func writeTrace(store *state.Store, runID, tracePath string, result *pipeline.GraphResult) error {
	tr := trace.FromResult(result)
	canonical, err := tr.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := store.SaveTrace(runID, canonical); err != nil {
		return err
	}
	if tracePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(tracePath), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(tracePath, canonical, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
