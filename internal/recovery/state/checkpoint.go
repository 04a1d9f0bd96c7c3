package state

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"sarpipe/internal/step"
	"sarpipe/internal/trace"
)

// CheckpointValidator creates stage checkpoints only after proving the
// stage's side effects actually exist: the declared outputs are on disk,
// the cache holds an entry under the stage's step hash, and the trace
// records a terminal event for the stage.
type CheckpointValidator struct {
	store     *Store
	cache     step.Cache
	harvester *step.Harvester
}

func NewCheckpointValidator(store *Store, cache step.Cache, harvester *step.Harvester) (*CheckpointValidator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cache == nil {
		return nil, errors.New("cache is required")
	}
	if harvester == nil {
		return nil, errors.New("harvester is required")
	}
	return &CheckpointValidator{store: store, cache: cache, harvester: harvester}, nil
}

// CreateAndSave validates a completed stage and persists its checkpoint.
//
// exitCode must be zero; failed stages never checkpoint. declaredOutputs
// is re-harvested so the checkpoint's output hash reflects what is on
// disk now, not what the executor believed it wrote.
func (v *CheckpointValidator) CreateAndSave(
	runID string,
	stageID string,
	stepHash step.StepHash,
	exitCode int,
	declaredOutputs []string,
	events []trace.Event,
) (Checkpoint, error) {
	if v == nil || v.store == nil {
		return Checkpoint{}, errors.New("validator is not initialized")
	}
	if strings.TrimSpace(runID) == "" {
		return Checkpoint{}, errors.New("runID is required")
	}
	if strings.TrimSpace(stageID) == "" {
		return Checkpoint{}, errors.New("stageID is required")
	}
	if exitCode != 0 {
		return Checkpoint{}, fmt.Errorf("stage %q exited %d, refusing to checkpoint", stageID, exitCode)
	}

	set, err := v.harvester.Harvest(declaredOutputs)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("re-harvest outputs of %q: %w", stageID, err)
	}

	ok, err := v.cache.Has(stepHash)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("probe cache for %q: %w", stageID, err)
	}
	if !ok {
		return Checkpoint{}, fmt.Errorf("stage %q has no cache entry under %s", stageID, stepHash)
	}

	if err := requireTerminalEvent(stageID, events); err != nil {
		return Checkpoint{}, err
	}

	cp := Checkpoint{
		StageID:    stageID,
		Timestamp:  time.Now().UTC(),
		CacheKeys:  []string{stepHash.String()},
		OutputHash: computeArtifactSetHash(set),
		Valid:      true,
	}
	if err := v.store.SaveCheckpoint(runID, cp); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func requireTerminalEvent(stageID string, events []trace.Event) error {
	for _, ev := range events {
		if ev.StageID != stageID {
			continue
		}
		switch ev.Kind {
		case trace.EventStageExecuted, trace.EventStageCached:
			return nil
		}
	}
	return fmt.Errorf("stage %q has no completion event in the trace", stageID)
}

// computeArtifactSetHash hashes an artifact set with length-prefixed
// fields so distinct sets can never collide by concatenation.
func computeArtifactSetHash(set *step.ArtifactSet) string {
	h := sha256.New()
	var lenBuf [8]byte
	writeField := func(b []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:])
		h.Write(b)
	}
	for _, a := range set.Artifacts {
		writeField([]byte(a.Path))
		writeField(a.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}
