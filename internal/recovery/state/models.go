// Package state persists run records, checkpoints, and failure reports so
// an interrupted or failed pipeline run can be resumed.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionMode selects how a run treats prior state.
type ExecutionMode string

const (
	// ExecutionModeClean ignores caches and checkpoints entirely.
	ExecutionModeClean ExecutionMode = "clean"

	// ExecutionModeIncremental reuses valid cached stages.
	ExecutionModeIncremental ExecutionMode = "incremental"

	// ExecutionModeResumeOnly continues a prior failed run and refuses
	// to start fresh.
	ExecutionModeResumeOnly ExecutionMode = "resume-only"
)

// RunStatus is the coarse outcome of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persistent execution attempt metadata.
type Run struct {
	RunID         string        `json:"run_id"`
	GraphHash     string        `json:"graph_hash"`
	StartTime     time.Time     `json:"start_time"`
	Mode          ExecutionMode `json:"mode"`
	RetryCount    int           `json:"retry_count"`
	Status        RunStatus     `json:"status"`
	PreviousRunID *string       `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ExecutionModeClean, ExecutionModeIncremental, ExecutionModeResumeOnly:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	if r.RetryCount < 0 {
		errs = append(errs, errors.New("retry_count must be >= 0"))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Checkpoint is a durable record of one successfully finished stage.
type Checkpoint struct {
	StageID    string    `json:"stage_id"`
	Timestamp  time.Time `json:"timestamp"`
	CacheKeys  []string  `json:"cache_keys"`
	OutputHash string    `json:"output_hash"`
	Valid      bool      `json:"valid"`
}

func (c Checkpoint) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StageID) == "" {
		errs = append(errs, errors.New("stage_id is required"))
	}
	if c.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if c.CacheKeys == nil {
		errs = append(errs, errors.New("cache_keys must be an array (not null)"))
	}
	for i, k := range c.CacheKeys {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, fmt.Errorf("cache_keys[%d] must not be empty", i))
		}
	}
	if strings.TrimSpace(c.OutputHash) == "" {
		errs = append(errs, errors.New("output_hash is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// FailureClass partitions run terminations by what broke.
type FailureClass string

const (
	// FailureClassGraph covers workflow validation failures. Never
	// resumable: the same workflow will fail the same way.
	FailureClassGraph FailureClass = "graph"

	// FailureClassWorkspace covers corrupt or missing workspace
	// structure (dataset directory, cache directory). Not resumable.
	FailureClassWorkspace FailureClass = "workspace"

	// FailureClassExecution covers a stage exiting nonzero.
	// Conditionally resumable via checkpoints.
	FailureClassExecution FailureClass = "execution"

	// FailureClassSystem covers crashes and interrupts. Resumable when
	// checkpoints exist.
	FailureClassSystem FailureClass = "system"
)

// Failure is a recorded run termination reason.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	StageID      *string      `json:"stage_id,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Resumable    bool         `json:"resumable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassGraph, FailureClassWorkspace, FailureClassExecution, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.StageID != nil && strings.TrimSpace(*f.StageID) == "" {
		errs = append(errs, errors.New("stage_id must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
