package pipeline

import (
	"sort"

	"sarpipe/internal/step"
)

// GraphResult is the deterministic summary of one graph execution attempt.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each stage by name.
	FinalState ExecutionState

	// ExecutionOrder lists the stages that actually started (transitioned
	// to RUNNING), in start order. Cached stages never appear here.
	ExecutionOrder []string

	// StepHashes records the per-stage execution identity.
	StepHashes map[string]step.StepHash

	// Stdout/Stderr/ExitCode capture per-stage results, executed or
	// replayed.
	Stdout   map[string][]byte
	Stderr   map[string][]byte
	ExitCode map[string]int
}

// Failed reports whether any stage terminated FAILED.
func (r *GraphResult) Failed() bool {
	if r == nil {
		return true
	}
	for _, st := range r.FinalState {
		if st == StageFailed {
			return true
		}
	}
	return false
}

// FailedStages returns the names of FAILED stages in lexical order.
func (r *GraphResult) FailedStages() []string {
	if r == nil {
		return nil
	}
	var out []string
	for name, st := range r.FinalState {
		if st == StageFailed {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
