package state

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func testRun(id string) Run {
	return Run{
		RunID:      id,
		GraphHash:  "abc123",
		StartTime:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Mode:       ExecutionModeIncremental,
		RetryCount: 0,
		Status:     RunStatusRunning,
	}
}

func TestStoreRunRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	run := testRun("run-a")
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := store.LoadRun("run-a")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if !reflect.DeepEqual(got, run) {
		t.Fatalf("LoadRun mismatch:\n got %+v\nwant %+v", got, run)
	}
}

func TestStoreSaveRunRejectsInvalid(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	run := testRun("run-a")
	run.GraphHash = ""
	if err := store.SaveRun(run); err == nil {
		t.Fatal("SaveRun accepted a run without a graph hash")
	}
}

func TestStoreListRunIDsSorted(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for _, id := range []string{"run-c", "run-a", "run-b"} {
		if err := store.SaveRun(testRun(id)); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	ids, err := store.ListRunIDs()
	if err != nil {
		t.Fatalf("ListRunIDs: %v", err)
	}
	want := []string{"run-a", "run-b", "run-c"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ListRunIDs = %v, want %v", ids, want)
	}
}

func TestStoreListRunIDsEmptyWhenMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ids, err := store.ListRunIDs()
	if err != nil {
		t.Fatalf("ListRunIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ListRunIDs = %v, want empty", ids)
	}
}

func TestStoreCheckpointRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cp := Checkpoint{
		StageID:    "align",
		Timestamp:  time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC),
		CacheKeys:  []string{"deadbeef"},
		OutputHash: "cafebabe",
		Valid:      true,
	}
	if err := store.SaveCheckpoint("run-a", cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	got, err := store.LoadCheckpoint("run-a", "align")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if !reflect.DeepEqual(got, cp) {
		t.Fatalf("LoadCheckpoint mismatch:\n got %+v\nwant %+v", got, cp)
	}
}

func TestStoreLoadCheckpointRejectsNullCacheKeys(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cpDir := filepath.Join(dir, ".sarpipe", "runs", "run-a", "checkpoints")
	if err := os.MkdirAll(cpDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	raw := `{
  "stage_id": "align",
  "timestamp": "2026-03-14T09:31:00Z",
  "cache_keys": null,
  "output_hash": "cafebabe",
  "valid": true
}
`
	if err := os.WriteFile(filepath.Join(cpDir, "align.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := store.LoadCheckpoint("run-a", "align"); err == nil {
		t.Fatal("LoadCheckpoint accepted null cache_keys")
	}
}

func TestStoreLoadAllCheckpoints(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ts := time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC)
	for _, stage := range []string{"fetch", "align"} {
		cp := Checkpoint{
			StageID:    stage,
			Timestamp:  ts,
			CacheKeys:  []string{"k-" + stage},
			OutputHash: "h-" + stage,
			Valid:      true,
		}
		if err := store.SaveCheckpoint("run-a", cp); err != nil {
			t.Fatalf("SaveCheckpoint(%s): %v", stage, err)
		}
	}

	got, err := store.LoadAllCheckpoints("run-a")
	if err != nil {
		t.Fatalf("LoadAllCheckpoints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadAllCheckpoints returned %d entries, want 2", len(got))
	}
	if got["fetch"].CacheKeys[0] != "k-fetch" || got["align"].CacheKeys[0] != "k-align" {
		t.Fatalf("LoadAllCheckpoints mismatch: %+v", got)
	}
}

func TestStoreReadJSONStrictRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	runDir := filepath.Join(dir, ".sarpipe", "runs", "run-a")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	raw := `{
  "run_id": "run-a",
  "graph_hash": "abc123",
  "start_time": "2026-03-14T09:30:00Z",
  "mode": "incremental",
  "retry_count": 0,
  "status": "running",
  "previous_run_id": null,
  "surprise": true
}
`
	if err := os.WriteFile(filepath.Join(runDir, "run.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := store.LoadRun("run-a"); err == nil {
		t.Fatal("LoadRun accepted an unknown field")
	}
}

func TestStoreReadJSONStrictRejectsTrailingContent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	runDir := filepath.Join(dir, ".sarpipe", "runs", "run-a")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	raw := `{
  "run_id": "run-a",
  "graph_hash": "abc123",
  "start_time": "2026-03-14T09:30:00Z",
  "mode": "incremental",
  "retry_count": 0,
  "status": "running",
  "previous_run_id": null
}
{"extra": true}
`
	if err := os.WriteFile(filepath.Join(runDir, "run.json"), []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err = store.LoadRun("run-a")
	if err == nil || !strings.Contains(err.Error(), "trailing content") {
		t.Fatalf("LoadRun error = %v, want trailing content error", err)
	}
}

func TestStoreFailureRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	stage := "intf"
	failure := Failure{
		FailureClass: FailureClassExecution,
		StageID:      &stage,
		ErrorCode:    "NONZERO_EXIT",
		ErrorMessage: "intf_tops.csh exited 1",
		Resumable:    true,
	}
	if err := store.SaveFailure("run-a", failure); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}

	got, err := store.LoadFailure("run-a")
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if !reflect.DeepEqual(got, failure) {
		t.Fatalf("LoadFailure mismatch:\n got %+v\nwant %+v", got, failure)
	}
}

func TestStoreTraceRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	canonical := []byte(`{"graphHash":"abc","events":[]}` + "\n")
	if err := store.SaveTrace("run-a", canonical); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	got, err := store.LoadTrace("run-a")
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if string(got) != string(canonical) {
		t.Fatalf("LoadTrace = %q, want %q", got, canonical)
	}
}
