package pipeline

import (
	"container/heap"
	"fmt"
)

// StageState is the runtime execution state of one stage.
type StageState string

const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageCompleted StageState = "COMPLETED"
	StageFailed    StageState = "FAILED"
	StageSkipped   StageState = "SKIPPED"
	StageCached    StageState = "CACHED"
)

// ExecutionState maps stage name to its current state.
//
// It is a plain map so the scheduler can remain a pure function without
// coupling to an executor implementation.
type ExecutionState map[string]StageState

// IsTerminal reports whether the state is terminal.
func IsTerminal(s StageState) bool {
	switch s {
	case StageCompleted, StageFailed, StageSkipped, StageCached:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies downstream dependencies.
func IsSuccessful(s StageState) bool {
	switch s {
	case StageCompleted, StageCached:
		return true
	default:
		return false
	}
}

// Transition performs an atomic validated transition for a single stage.
//
// The caller supplies the expected prior state so races surface as errors
// instead of silent corruption. The state map is mutated only when the
// transition is valid.
func Transition(state ExecutionState, stageName string, from, to StageState) error {
	cur, ok := state[stageName]
	if !ok {
		return fmt.Errorf("unknown stage in state: %q", stageName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", stageName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", stageName, from, to)
	}
	state[stageName] = to
	return nil
}

func isAllowedTransition(from, to StageState) bool {
	switch from {
	case StagePending:
		return to == StageRunning || to == StageCached || to == StageSkipped
	case StageRunning:
		return to == StageCompleted || to == StageFailed
	default:
		return false
	}
}

// FailAndPropagate transitions stageName from RUNNING to FAILED and
// transitively marks all downstream dependents SKIPPED.
//
// The set of skipped stages is defined purely by reachability, traversed
// in canonical index order. A downstream stage observed RUNNING during
// propagation is an invariant violation: the executor must never have
// started it while its ancestor was still in flight.
func FailAndPropagate(g *StageGraph, state ExecutionState, stageName string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[stageName]
	if !ok {
		return fmt.Errorf("unknown stage: %q", stageName)
	}

	cur, ok := state[stageName]
	if !ok {
		return fmt.Errorf("unknown stage in state: %q", stageName)
	}
	if cur != StageRunning && cur != StageFailed {
		return fmt.Errorf("cannot fail %q from state %s", stageName, cur)
	}
	if cur == StageRunning {
		state[stageName] = StageFailed
	}

	start := node.canonicalIndex
	visited := make([]bool, len(g.nodes))
	visited[start] = true

	hq := &intMinHeap{}
	heap.Init(hq)
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}

	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		name := g.nodes[u].Name
		st, ok := state[name]
		if !ok {
			return fmt.Errorf("missing state for %q", name)
		}

		switch st {
		case StagePending:
			state[name] = StageSkipped
		case StageRunning:
			return fmt.Errorf("invariant violation: downstream stage %q is RUNNING during failure propagation", name)
		default:
			// Terminal already; leave unchanged.
		}

		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}

	return nil
}
