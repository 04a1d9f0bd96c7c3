package state

import (
	"os"
	"path/filepath"
	"testing"

	"sarpipe/internal/step"
	"sarpipe/internal/trace"
)

func checkpointFixture(t *testing.T) (*CheckpointValidator, *Store, step.Cache, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cache := step.NewMemoryCache()
	validator, err := NewCheckpointValidator(store, cache, step.NewHarvester(dir))
	if err != nil {
		t.Fatalf("NewCheckpointValidator: %v", err)
	}
	return validator, store, cache, dir
}

func executedEvent(stage string) trace.Event {
	return trace.Event{Kind: trace.EventStageExecuted, StageID: stage}
}

func TestCheckpointValidatorCreateAndSave(t *testing.T) {
	validator, store, cache, dir := checkpointFixture(t)

	if err := os.WriteFile(filepath.Join(dir, "phase.grd"), []byte("grid"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	hash := step.StepHash("feedface")
	if err := cache.Put(&step.CacheEntry{Hash: hash, Artifacts: []step.CachedArtifact{}}); err != nil {
		t.Fatalf("cache.Put: %v", err)
	}

	cp, err := validator.CreateAndSave("run-a", "intf", hash, 0,
		[]string{"phase.grd"}, []trace.Event{executedEvent("intf")})
	if err != nil {
		t.Fatalf("CreateAndSave: %v", err)
	}
	if cp.StageID != "intf" || !cp.Valid {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if len(cp.CacheKeys) != 1 || cp.CacheKeys[0] != "feedface" {
		t.Fatalf("cache keys = %v, want [feedface]", cp.CacheKeys)
	}
	if cp.OutputHash == "" {
		t.Fatal("output hash is empty")
	}

	loaded, err := store.LoadCheckpoint("run-a", "intf")
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if loaded.OutputHash != cp.OutputHash {
		t.Fatalf("persisted output hash %s, want %s", loaded.OutputHash, cp.OutputHash)
	}
}

func TestCheckpointValidatorRejectsNonzeroExit(t *testing.T) {
	validator, _, _, _ := checkpointFixture(t)

	_, err := validator.CreateAndSave("run-a", "intf", "feedface", 1, nil,
		[]trace.Event{executedEvent("intf")})
	if err == nil {
		t.Fatal("CreateAndSave accepted a nonzero exit")
	}
}

func TestCheckpointValidatorRejectsMissingOutput(t *testing.T) {
	validator, _, cache, _ := checkpointFixture(t)

	hash := step.StepHash("feedface")
	if err := cache.Put(&step.CacheEntry{Hash: hash, Artifacts: []step.CachedArtifact{}}); err != nil {
		t.Fatalf("cache.Put: %v", err)
	}

	_, err := validator.CreateAndSave("run-a", "intf", hash, 0,
		[]string{"missing.grd"}, []trace.Event{executedEvent("intf")})
	if err == nil {
		t.Fatal("CreateAndSave accepted a missing declared output")
	}
}

func TestCheckpointValidatorRejectsMissingCacheEntry(t *testing.T) {
	validator, _, _, _ := checkpointFixture(t)

	_, err := validator.CreateAndSave("run-a", "intf", "absent", 0, nil,
		[]trace.Event{executedEvent("intf")})
	if err == nil {
		t.Fatal("CreateAndSave accepted a missing cache entry")
	}
}

func TestCheckpointValidatorRequiresTraceEvent(t *testing.T) {
	validator, _, cache, _ := checkpointFixture(t)

	hash := step.StepHash("feedface")
	if err := cache.Put(&step.CacheEntry{Hash: hash, Artifacts: []step.CachedArtifact{}}); err != nil {
		t.Fatalf("cache.Put: %v", err)
	}

	_, err := validator.CreateAndSave("run-a", "intf", hash, 0, nil,
		[]trace.Event{executedEvent("align")})
	if err == nil {
		t.Fatal("CreateAndSave accepted a stage with no trace event")
	}
}
