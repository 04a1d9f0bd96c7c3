package state

import (
	"reflect"
	"testing"
	"time"

	"sarpipe/internal/pipeline"
	"sarpipe/internal/step"
)

func resumeGraph(t *testing.T) *pipeline.StageGraph {
	t.Helper()
	stages := []step.Step{
		{Name: "fetch", Run: "true"},
		{Name: "align", Run: "true"},
		{Name: "intf", Run: "true"},
	}
	edges := []pipeline.Edge{
		{From: "fetch", To: "align"},
		{From: "align", To: "intf"},
	}
	g, err := pipeline.NewStageGraph(stages, edges)
	if err != nil {
		t.Fatalf("NewStageGraph: %v", err)
	}
	return g
}

func resumeHashes() map[string]step.StepHash {
	return map[string]step.StepHash{
		"fetch": "hash-fetch",
		"align": "hash-align",
		"intf":  "hash-intf",
	}
}

func checkpointFor(stage, key string) Checkpoint {
	return Checkpoint{
		StageID:    stage,
		Timestamp:  time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		CacheKeys:  []string{key},
		OutputHash: "out-" + stage,
		Valid:      true,
	}
}

// seedFailedRun persists a failed previous run with a resumable failure
// and checkpoints for the named stages, and returns its run ID.
func seedFailedRun(t *testing.T, store *Store, g *pipeline.StageGraph, stages map[string]string) string {
	t.Helper()
	prev := Run{
		RunID:      "prev-run",
		GraphHash:  g.Hash().String(),
		StartTime:  time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Mode:       ExecutionModeIncremental,
		RetryCount: 0,
		Status:     RunStatusFailed,
	}
	if err := store.SaveRun(prev); err != nil {
		t.Fatalf("SaveRun(prev): %v", err)
	}
	stage := "intf"
	failure := Failure{
		FailureClass: FailureClassExecution,
		StageID:      &stage,
		ErrorCode:    "NONZERO_EXIT",
		ErrorMessage: "intf exited 1",
		Resumable:    true,
	}
	if err := store.SaveFailure("prev-run", failure); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	for name, key := range stages {
		if err := store.SaveCheckpoint("prev-run", checkpointFor(name, key)); err != nil {
			t.Fatalf("SaveCheckpoint(%s): %v", name, err)
		}
	}
	return "prev-run"
}

func resumeRequest(g *pipeline.StageGraph, prevID string) ResumeRequest {
	return ResumeRequest{
		Run: Run{
			RunID:         "next-run",
			GraphHash:     g.Hash().String(),
			StartTime:     time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
			Mode:          ExecutionModeResumeOnly,
			RetryCount:    1,
			Status:        RunStatusRunning,
			PreviousRunID: &prevID,
		},
		Graph:      g,
		StepHashes: resumeHashes(),
	}
}

func TestCheckResumeEligibilityHappyPath(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)
	prevID := seedFailedRun(t, store, g, map[string]string{
		"fetch": "hash-fetch",
		"align": "hash-align",
	})

	decision, err := CheckResumeEligibility(store, resumeRequest(g, prevID))
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if !decision.Eligible {
		t.Fatalf("not eligible: %s", decision.Reason)
	}
	want := []string{"align", "fetch"}
	if !reflect.DeepEqual(decision.ValidStages, want) {
		t.Fatalf("ValidStages = %v, want %v", decision.ValidStages, want)
	}
}

func TestCheckResumeEligibilityStaleStepHashInvalidatesDownstream(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)
	// fetch's checkpoint carries an old cache key, so align's checkpoint
	// must be discarded too even though align itself still matches.
	prevID := seedFailedRun(t, store, g, map[string]string{
		"fetch": "hash-fetch-old",
		"align": "hash-align",
	})

	decision, err := CheckResumeEligibility(store, resumeRequest(g, prevID))
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if !decision.Eligible {
		t.Fatalf("not eligible: %s", decision.Reason)
	}
	if len(decision.ValidStages) != 0 {
		t.Fatalf("ValidStages = %v, want none", decision.ValidStages)
	}
}

func TestCheckResumeEligibilityCleanModeNeverResumes(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)
	prevID := seedFailedRun(t, store, g, nil)

	req := resumeRequest(g, prevID)
	req.Run.Mode = ExecutionModeClean
	decision, err := CheckResumeEligibility(store, req)
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if decision.Eligible {
		t.Fatal("clean mode must not resume")
	}
}

func TestCheckResumeEligibilityMissingPreviousRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)

	decision, err := CheckResumeEligibility(store, resumeRequest(g, "no-such-run"))
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if decision.Eligible {
		t.Fatal("missing previous run must not be eligible")
	}
}

func TestCheckResumeEligibilityGraphChanged(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)
	prevID := seedFailedRun(t, store, g, nil)

	req := resumeRequest(g, prevID)
	req.Run.GraphHash = "completely-different"
	decision, err := CheckResumeEligibility(store, req)
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if decision.Eligible {
		t.Fatal("graph change must not be eligible")
	}
}

func TestCheckResumeEligibilityRetryCountMustAdvance(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)
	prevID := seedFailedRun(t, store, g, nil)

	req := resumeRequest(g, prevID)
	req.Run.RetryCount = 3
	decision, err := CheckResumeEligibility(store, req)
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if decision.Eligible {
		t.Fatal("retry count jump must not be eligible")
	}
}

func TestCheckResumeEligibilityNonResumableFailure(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	g := resumeGraph(t)
	prevID := seedFailedRun(t, store, g, nil)

	failure := Failure{
		FailureClass: FailureClassGraph,
		ErrorCode:    "CYCLE",
		ErrorMessage: "stage cycle detected",
		Resumable:    false,
	}
	if err := store.SaveFailure(prevID, failure); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}

	decision, err := CheckResumeEligibility(store, resumeRequest(g, prevID))
	if err != nil {
		t.Fatalf("CheckResumeEligibility: %v", err)
	}
	if decision.Eligible {
		t.Fatal("non-resumable failure must not be eligible")
	}
}
