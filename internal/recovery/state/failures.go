package state

import (
	"errors"
	"fmt"
)

// GraphFailureError marks deterministic workflow validation failures.
type GraphFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *GraphFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("graph failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("graph failure: %s", e.Message)
}

func (e *GraphFailureError) Unwrap() error { return e.Cause }

// WorkspaceFailureError marks corrupt or invalid workspace structure.
type WorkspaceFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *WorkspaceFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("workspace failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("workspace failure: %s", e.Message)
}

func (e *WorkspaceFailureError) Unwrap() error { return e.Cause }

// ExecutionFailureError marks a stage-level execution failure.
type ExecutionFailureError struct {
	StageID string
	Code    string
	Message string
	Cause   error
}

func (e *ExecutionFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.StageID != "" && e.Code != "" {
		return fmt.Sprintf("execution failure stage=%s (%s): %s", e.StageID, e.Code, e.Message)
	}
	if e.StageID != "" {
		return fmt.Sprintf("execution failure stage=%s: %s", e.StageID, e.Message)
	}
	return fmt.Sprintf("execution failure: %s", e.Message)
}

func (e *ExecutionFailureError) Unwrap() error { return e.Cause }

// SystemFailureError marks crashes, interrupts, and host-level failures.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// FailureFromError classifies an error into the failure taxonomy. Unknown
// errors become system failures, the most conservative resumable class.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var gf *GraphFailureError
	if errors.As(err, &gf) && gf != nil {
		return Failure{
			FailureClass: FailureClassGraph,
			ErrorCode:    nonEmptyOr(gf.Code, "GraphFailure"),
			ErrorMessage: nonEmptyOr(gf.Message, gf.Error()),
			Resumable:    false,
		}, nil
	}

	var wf *WorkspaceFailureError
	if errors.As(err, &wf) && wf != nil {
		return Failure{
			FailureClass: FailureClassWorkspace,
			ErrorCode:    nonEmptyOr(wf.Code, "WorkspaceFailure"),
			ErrorMessage: nonEmptyOr(wf.Message, wf.Error()),
			Resumable:    false,
		}, nil
	}

	var ef *ExecutionFailureError
	if errors.As(err, &ef) && ef != nil {
		var stagePtr *string
		if ef.StageID != "" {
			s := ef.StageID
			stagePtr = &s
		}
		return Failure{
			FailureClass: FailureClassExecution,
			StageID:      stagePtr,
			ErrorCode:    nonEmptyOr(ef.Code, "ExecutionFailure"),
			ErrorMessage: nonEmptyOr(ef.Message, ef.Error()),
			// Conditionally resumable; the caller decides based on
			// checkpoint presence.
			Resumable: true,
		}, nil
	}

	var sf *SystemFailureError
	if errors.As(err, &sf) && sf != nil {
		return Failure{
			FailureClass: FailureClassSystem,
			ErrorCode:    nonEmptyOr(sf.Code, "SystemFailure"),
			ErrorMessage: nonEmptyOr(sf.Message, sf.Error()),
			Resumable:    true,
		}, nil
	}

	return Failure{
		FailureClass: FailureClassSystem,
		ErrorCode:    "UnknownError",
		ErrorMessage: err.Error(),
		Resumable:    true,
	}, nil
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
