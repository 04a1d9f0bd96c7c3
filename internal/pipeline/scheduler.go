package pipeline

import "sort"

// ReadyStages returns the deterministically ordered stage names eligible
// to run.
//
// Policy:
//   - A stage is ready iff it is PENDING and every dependency is
//     COMPLETED or CACHED.
//   - The returned list is sorted by (topological depth asc, name asc).
//
// This function is pure: it mutates neither the graph nor the state.
func ReadyStages(g *StageGraph, state ExecutionState) []string {
	if g == nil {
		return nil
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		st, ok := state[node.Name]
		if !ok || st != StagePending {
			continue
		}

		idx := node.canonicalIndex
		depsOK := true
		for _, parentIdx := range g.incoming[idx] {
			pst, ok := state[g.nodes[parentIdx].Name]
			if !ok || !IsSuccessful(pst) {
				depsOK = false
				break
			}
		}
		if depsOK {
			ready = append(ready, node.Name)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		ad, _ := g.Depth(a)
		bd, _ := g.Depth(b)
		if ad != bd {
			return ad < bd
		}
		return a < b
	})

	return ready
}
