package state

import (
	"regexp"
	"testing"
)

func TestNewRunIDFormat(t *testing.T) {
	id, err := NewRunID()
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(id) {
		t.Fatalf("NewRunID = %q, want 32 hex chars", id)
	}

	other, err := NewRunID()
	if err != nil {
		t.Fatalf("NewRunID: %v", err)
	}
	if id == other {
		t.Fatal("NewRunID returned the same id twice")
	}
}

func TestFailureRecorderLifecycle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	recorder, err := NewFailureRecorder(store)
	if err != nil {
		t.Fatalf("NewFailureRecorder: %v", err)
	}

	run, err := recorder.StartRun("graph-hash", ExecutionModeIncremental, 0, nil)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.Status != RunStatusRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}

	failure, err := recorder.RecordFailure(run, &ExecutionFailureError{
		StageID: "unwrap",
		Code:    "NONZERO_EXIT",
		Message: "snaphu exited 1",
	})
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if failure.FailureClass != FailureClassExecution {
		t.Fatalf("class = %s, want execution", failure.FailureClass)
	}

	reloaded, err := store.LoadRun(run.RunID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if reloaded.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", reloaded.Status)
	}
	if _, err := store.LoadFailure(run.RunID); err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
}
