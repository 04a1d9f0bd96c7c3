package step

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExecutionResult captures everything a stage run produces that the cache
// stores: stdout, stderr, and the exit code. Artifacts are harvested
// separately from declared outputs.
type ExecutionResult struct {
	Stdout []byte
	Stderr []byte

	// ExitCode is the process exit code. 0 is success; any other value
	// fails the stage and the run.
	ExitCode int

	// Hash is the StepHash this execution was performed under.
	Hash StepHash
}

// DefaultNoFileLimit is the open-file floor requested for stages that run
// processing scripts. The scripts open one descriptor per scene grid and
// exhaust conservative default soft limits.
const DefaultNoFileLimit uint64 = 8192

// Executor runs steps in an isolated environment.
//
// The environment is an allowlist: it starts empty, and only the step's
// declared variables, the executor's passthrough variables, and an
// assembled PATH are visible. Host variables never leak into a stage by
// accident, so a run on a developer laptop and a run on a CI runner see
// the same world.
type Executor struct {
	// WorkDir is the directory the command runs in.
	WorkDir string

	// PathPrepend lists directories placed at the front of the stage's
	// PATH, ahead of any PATH the step declares. The toolchain installer
	// registers its bin directory here so processing binaries resolve
	// without the step naming absolute paths.
	PathPrepend []string

	// Passthrough lists host environment variables copied into the stage
	// environment when set and not already declared by the step. The
	// toolchain's orbit lookup needs HOME; nothing else is passed by
	// default.
	Passthrough []string

	// NoFileLimit, when non-zero, raises the soft RLIMIT_NOFILE to at
	// least this value before the command starts. The processing scripts
	// open one descriptor per scene grid and exhaust the default soft
	// limit on macOS runners.
	NoFileLimit uint64
}

// NewExecutor creates an Executor with the given working directory and no
// environment passthrough.
func NewExecutor(workDir string) *Executor {
	return &Executor{WorkDir: workDir}
}

// Execute runs the step command under `sh -c` with strict environment
// isolation, capturing stdout and stderr.
//
// Cancellation kills the entire process group, not just the shell: the
// processing toolchain forks worker binaries that would otherwise outlive
// a timed-out stage.
func (e *Executor) Execute(ctx context.Context, st *Step, hash StepHash) (*ExecutionResult, error) {
	if st == nil {
		return nil, fmt.Errorf("step is nil")
	}
	if st.Run == "" {
		return nil, fmt.Errorf("step %q: run command is empty", st.Name)
	}

	if e.NoFileLimit > 0 {
		if err := raiseNoFileLimit(e.NoFileLimit); err != nil {
			return nil, fmt.Errorf("raising open-file limit: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", st.Run)
	cmd.Dir = e.WorkDir
	cmd.Env = e.buildEnv(st.Env)

	// Own process group so cancellation can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			// Negative PID targets the process group.
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("executing command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &ExecutionResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Hash:     hash,
	}, nil
}

// buildEnv assembles the stage environment from the allowlist.
//
// Precedence, lowest to highest: passthrough host variables, step-declared
// variables. PATH is assembled last: PathPrepend entries, then whatever
// PATH the step or passthrough contributed.
func (e *Executor) buildEnv(declared map[string]string) []string {
	env := make(map[string]string, len(declared)+len(e.Passthrough)+1)

	for _, key := range e.Passthrough {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for k, v := range declared {
		env[k] = v
	}

	if len(e.PathPrepend) > 0 {
		path := strings.Join(e.PathPrepend, string(os.PathListSeparator))
		if existing, ok := env["PATH"]; ok && existing != "" {
			path = path + string(os.PathListSeparator) + existing
		}
		env["PATH"] = path
	}

	if len(env) == 0 {
		// Empty environment, not nil: the command runs with no variables.
		return []string{}
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// raiseNoFileLimit lifts the soft RLIMIT_NOFILE to at least want, capped at
// the hard limit. Child processes inherit the raised limit. Lowering an
// already higher limit is never done.
func raiseNoFileLimit(want uint64) error {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return err
	}
	if lim.Cur >= want {
		return nil
	}
	raised := lim
	raised.Cur = want
	if raised.Max != unix.RLIM_INFINITY && raised.Cur > raised.Max {
		raised.Cur = raised.Max
	}
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &raised)
}
