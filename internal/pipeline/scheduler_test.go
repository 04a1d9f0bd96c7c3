package pipeline

import (
	"reflect"
	"testing"

	"sarpipe/internal/step"
)

func TestReadyStages_SortedByDepthThenName(t *testing.T) {
	g, err := NewStageGraph(
		[]step.Step{
			{Name: "align", Inputs: []string{"a"}, Run: "run-align"},
			{Name: "dem", Inputs: []string{"d"}, Run: "run-dem"},
			{Name: "intf", Inputs: []string{"i"}, Run: "run-intf"},
			{Name: "topo", Inputs: []string{"t"}, Run: "run-topo"},
		},
		[]Edge{{From: "align", To: "intf"}, {From: "dem", To: "topo"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// align and dem completed, so intf and topo become ready. Both are
	// depth 1, so they sort lexically.
	state := ExecutionState{
		"align": StageCompleted,
		"dem":   StageCompleted,
		"intf":  StagePending,
		"topo":  StagePending,
	}

	got := ReadyStages(g, state)
	want := []string{"intf", "topo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ready list mismatch: got %v want %v", got, want)
	}
}

func TestReadyStages_RootsLexicalOrder(t *testing.T) {
	g, err := NewStageGraph(
		[]step.Step{
			{Name: "dem", Inputs: []string{"d"}, Run: "run-dem"},
			{Name: "align", Inputs: []string{"a"}, Run: "run-align"},
			{Name: "fetch", Inputs: []string{"f"}, Run: "run-fetch"},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state := ExecutionState{
		"align": StagePending,
		"dem":   StagePending,
		"fetch": StagePending,
	}

	got := ReadyStages(g, state)
	want := []string{"align", "dem", "fetch"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ready list mismatch: got %v want %v", got, want)
	}
}

func TestReadyStages_DiamondWaitsForAllParents(t *testing.T) {
	g, err := NewStageGraph(
		[]step.Step{
			{Name: "fetch", Inputs: []string{"f"}, Run: "run-fetch"},
			{Name: "align", Inputs: []string{"a"}, Run: "run-align"},
			{Name: "dem", Inputs: []string{"d"}, Run: "run-dem"},
			{Name: "intf", Inputs: []string{"i"}, Run: "run-intf"},
		},
		[]Edge{
			{From: "fetch", To: "align"},
			{From: "fetch", To: "dem"},
			{From: "align", To: "intf"},
			{From: "dem", To: "intf"},
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// After fetch completes, align and dem are ready, intf is not.
	state := ExecutionState{
		"fetch": StageCompleted,
		"align": StagePending,
		"dem":   StagePending,
		"intf":  StagePending,
	}
	got := ReadyStages(g, state)
	if !reflect.DeepEqual(got, []string{"align", "dem"}) {
		t.Fatalf("unexpected ready list after fetch completed: %v", got)
	}

	// align done, dem still pending: intf must still not be ready.
	state["align"] = StageCompleted
	got = ReadyStages(g, state)
	if !reflect.DeepEqual(got, []string{"dem"}) {
		t.Fatalf("unexpected ready list after align completed: %v", got)
	}

	// dem satisfied from cache counts as success and unblocks intf.
	state["dem"] = StageCached
	got = ReadyStages(g, state)
	if !reflect.DeepEqual(got, []string{"intf"}) {
		t.Fatalf("unexpected ready list after dem cached: %v", got)
	}
}
