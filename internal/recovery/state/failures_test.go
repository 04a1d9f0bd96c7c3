package state

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureFromErrorGraph(t *testing.T) {
	err := &GraphFailureError{Code: "CYCLE", Message: "stage cycle detected"}
	failure, cErr := FailureFromError(err)
	if cErr != nil {
		t.Fatalf("FailureFromError: %v", cErr)
	}
	if failure.FailureClass != FailureClassGraph {
		t.Fatalf("class = %s, want graph", failure.FailureClass)
	}
	if failure.Resumable {
		t.Fatal("graph failures must not be resumable")
	}
	if failure.ErrorCode != "CYCLE" {
		t.Fatalf("code = %s, want CYCLE", failure.ErrorCode)
	}
}

func TestFailureFromErrorWorkspaceNotResumable(t *testing.T) {
	err := &WorkspaceFailureError{Message: "cache dir unreadable"}
	failure, cErr := FailureFromError(err)
	if cErr != nil {
		t.Fatalf("FailureFromError: %v", cErr)
	}
	if failure.FailureClass != FailureClassWorkspace || failure.Resumable {
		t.Fatalf("got %+v, want non-resumable workspace failure", failure)
	}
	if failure.ErrorCode != "WorkspaceFailure" {
		t.Fatalf("code = %s, want default WorkspaceFailure", failure.ErrorCode)
	}
}

func TestFailureFromErrorExecutionCarriesStage(t *testing.T) {
	err := &ExecutionFailureError{StageID: "unwrap", Code: "NONZERO_EXIT", Message: "snaphu exited 1"}
	failure, cErr := FailureFromError(err)
	if cErr != nil {
		t.Fatalf("FailureFromError: %v", cErr)
	}
	if failure.FailureClass != FailureClassExecution {
		t.Fatalf("class = %s, want execution", failure.FailureClass)
	}
	if failure.StageID == nil || *failure.StageID != "unwrap" {
		t.Fatalf("stage = %v, want unwrap", failure.StageID)
	}
	if !failure.Resumable {
		t.Fatal("execution failures must be resumable")
	}
}

func TestFailureFromErrorWrapped(t *testing.T) {
	inner := &ExecutionFailureError{StageID: "intf", Message: "interferogram step failed"}
	wrapped := fmt.Errorf("run aborted: %w", inner)

	failure, cErr := FailureFromError(wrapped)
	if cErr != nil {
		t.Fatalf("FailureFromError: %v", cErr)
	}
	if failure.FailureClass != FailureClassExecution {
		t.Fatalf("class = %s, want execution through wrapping", failure.FailureClass)
	}
}

func TestFailureFromErrorUnknownBecomesSystem(t *testing.T) {
	failure, cErr := FailureFromError(errors.New("disk full"))
	if cErr != nil {
		t.Fatalf("FailureFromError: %v", cErr)
	}
	if failure.FailureClass != FailureClassSystem {
		t.Fatalf("class = %s, want system", failure.FailureClass)
	}
	if !failure.Resumable {
		t.Fatal("unknown failures classify as resumable system failures")
	}
	if failure.ErrorCode != "UnknownError" {
		t.Fatalf("code = %s, want UnknownError", failure.ErrorCode)
	}
}

func TestFailureFromErrorNil(t *testing.T) {
	if _, err := FailureFromError(nil); err == nil {
		t.Fatal("FailureFromError accepted nil")
	}
}
