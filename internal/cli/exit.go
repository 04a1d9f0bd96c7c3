package cli

import (
	"errors"
	"fmt"

	"sarpipe/internal/workflow"
)

// Semantic exit codes. Scripts and CI steps branch on these, so they are
// part of the CLI's contract.
const (
	ExitSuccess           = 0
	ExitPipelineFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError marks a malformed command line. ExitCode overrides the
// default invalid-invocation code when nonzero; the dataset command's
// argument errors exit 1 for compatibility with the scripts it replaced.
type InvocationError struct {
	Message  string
	ExitCode int
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{Message: fmt.Sprintf(format, args...)}
}

// ExitCodeFor maps an error to its semantic exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var schemaErr *workflow.SchemaError
	if errors.As(err, &schemaErr) {
		return ExitConfigError
	}
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return ExitPipelineFailure
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	return ExitInternalError
}

// PipelineError marks a run where one or more stages failed. The graph
// itself was valid and the engine worked; the work did not.
type PipelineError struct {
	FailedStages []string
}

func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.FailedStages) == 0 {
		return "pipeline failed"
	}
	return fmt.Sprintf("pipeline failed: stage %s", e.FailedStages[0])
}

// ConfigError marks a configuration problem outside the workflow schema,
// such as an ineligible resume or an unusable cache directory.
type ConfigError struct {
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func configErrf(cause error, format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...), Cause: cause}
}
