package state

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"sarpipe/internal/pipeline"
	"sarpipe/internal/step"
)

// ResumeDecision is the outcome of a resume eligibility check.
//
// When Eligible is false, Reason explains why in one sentence and the run
// must restart clean. When Eligible is true, ValidStages lists the stages
// whose checkpoints can be trusted, sorted canonically.
type ResumeDecision struct {
	Eligible    bool
	Reason      string
	ValidStages []string
}

// ResumeRequest describes the run being attempted against a previous one.
type ResumeRequest struct {
	Run        Run
	Graph      *pipeline.StageGraph
	StepHashes map[string]step.StepHash
}

func ineligible(format string, args ...any) ResumeDecision {
	return ResumeDecision{Eligible: false, Reason: fmt.Sprintf(format, args...)}
}

// CheckResumeEligibility decides whether req.Run may resume from its
// previous run.
//
// A run is eligible only when the previous run exists and failed with a
// resumable failure, the graph is unchanged, and the retry counter
// advances by exactly one. Checkpoints of the previous run are then
// filtered: a checkpoint counts only if its cache keys still match the
// stage's current step hash and every upstream stage also holds a valid
// checkpoint. A changed stage invalidates everything downstream of it.
func CheckResumeEligibility(store *Store, req ResumeRequest) (ResumeDecision, error) {
	if store == nil {
		return ResumeDecision{}, errors.New("store is required")
	}
	if req.Graph == nil {
		return ResumeDecision{}, errors.New("graph is required")
	}
	if err := req.Run.Validate(); err != nil {
		return ResumeDecision{}, fmt.Errorf("invalid run: %w", err)
	}

	if req.Run.Mode != ExecutionModeResumeOnly && req.Run.Mode != ExecutionModeIncremental {
		return ineligible("mode %q never resumes", req.Run.Mode), nil
	}
	if req.Run.PreviousRunID == nil || strings.TrimSpace(*req.Run.PreviousRunID) == "" {
		return ineligible("no previous run id"), nil
	}
	prevID := *req.Run.PreviousRunID

	prev, err := store.LoadRun(prevID)
	if err != nil {
		if os.IsNotExist(err) {
			return ineligible("previous run %s not found", prevID), nil
		}
		return ResumeDecision{}, fmt.Errorf("load previous run: %w", err)
	}
	if prev.Status != RunStatusFailed {
		return ineligible("previous run %s did not fail (status %s)", prevID, prev.Status), nil
	}
	if prev.GraphHash != req.Run.GraphHash || prev.GraphHash != req.Graph.Hash().String() {
		return ineligible("graph changed since run %s", prevID), nil
	}
	if req.Run.RetryCount != prev.RetryCount+1 {
		return ineligible("retry count must advance by one (previous %d, requested %d)",
			prev.RetryCount, req.Run.RetryCount), nil
	}

	failure, err := store.LoadFailure(prevID)
	if err != nil {
		if os.IsNotExist(err) {
			return ineligible("previous run %s has no failure record", prevID), nil
		}
		return ResumeDecision{}, fmt.Errorf("load previous failure: %w", err)
	}
	if !failure.Resumable {
		return ineligible("previous failure %s/%s is not resumable",
			failure.FailureClass, failure.ErrorCode), nil
	}

	checkpoints, err := store.LoadAllCheckpoints(prevID)
	if err != nil {
		return ResumeDecision{}, fmt.Errorf("load checkpoints: %w", err)
	}
	valid := filterValidCheckpoints(req.Graph, req.StepHashes, checkpoints)

	names := make([]string, 0, len(valid))
	for name := range valid {
		names = append(names, name)
	}
	sort.Strings(names)
	return ResumeDecision{Eligible: true, ValidStages: names}, nil
}

// filterValidCheckpoints keeps checkpoints whose cache keys still match
// the current step hash and whose upstream stages are all valid too.
func filterValidCheckpoints(
	g *pipeline.StageGraph,
	stepHashes map[string]step.StepHash,
	checkpoints map[string]Checkpoint,
) map[string]Checkpoint {
	parents := make(map[string][]string)
	for _, e := range g.Edges() {
		parents[e.To] = append(parents[e.To], e.From)
	}

	selfValid := func(name string) bool {
		cp, ok := checkpoints[name]
		if !ok || !cp.Valid {
			return false
		}
		current, ok := stepHashes[name]
		if !ok {
			return false
		}
		return len(cp.CacheKeys) == 1 && cp.CacheKeys[0] == current.String()
	}

	memo := make(map[string]bool)
	var chainValid func(name string) bool
	chainValid = func(name string) bool {
		if v, ok := memo[name]; ok {
			return v
		}
		// Graphs are acyclic so this terminates; mark false first so a
		// corrupt store with a cycle cannot loop.
		memo[name] = false
		if !selfValid(name) {
			return false
		}
		for _, parent := range parents[name] {
			if !chainValid(parent) {
				return false
			}
		}
		memo[name] = true
		return true
	}

	out := make(map[string]Checkpoint)
	for name, cp := range checkpoints {
		if _, exists := g.Node(name); !exists {
			continue
		}
		if chainValid(name) {
			out[name] = cp
		}
	}
	return out
}
