package state

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NewRunID returns a random 128-bit hex run identifier.
func NewRunID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// FailureRecorder persists run records and failure classifications so a
// later invocation can decide whether the run is resumable.
type FailureRecorder struct {
	store *Store
}

func NewFailureRecorder(store *Store) (*FailureRecorder, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &FailureRecorder{store: store}, nil
}

// StartRun persists a Run record in the running state and returns it.
func (r *FailureRecorder) StartRun(graphHash string, mode ExecutionMode, retryCount int, previousRunID *string) (Run, error) {
	if r == nil || r.store == nil {
		return Run{}, errors.New("recorder is not initialized")
	}
	runID, err := NewRunID()
	if err != nil {
		return Run{}, err
	}
	run := Run{
		RunID:         runID,
		GraphHash:     strings.TrimSpace(graphHash),
		StartTime:     time.Now().UTC(),
		Mode:          mode,
		RetryCount:    retryCount,
		Status:        RunStatusRunning,
		PreviousRunID: previousRunID,
	}
	if err := r.store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// FinishRun marks a run as succeeded or failed.
func (r *FailureRecorder) FinishRun(run Run, status RunStatus) (Run, error) {
	if r == nil || r.store == nil {
		return Run{}, errors.New("recorder is not initialized")
	}
	run.Status = status
	if err := r.store.SaveRun(run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RecordFailure classifies err and persists both the failure record and
// the failed run status.
func (r *FailureRecorder) RecordFailure(run Run, err error) (Failure, error) {
	if r == nil || r.store == nil {
		return Failure{}, errors.New("recorder is not initialized")
	}
	if err == nil {
		return Failure{}, errors.New("err is required")
	}

	failure, classifyErr := FailureFromError(err)
	if classifyErr != nil {
		return Failure{}, classifyErr
	}
	if saveErr := r.store.SaveFailure(run.RunID, failure); saveErr != nil {
		return Failure{}, saveErr
	}
	if _, finishErr := r.FinishRun(run, RunStatusFailed); finishErr != nil {
		return Failure{}, finishErr
	}
	return failure, nil
}
