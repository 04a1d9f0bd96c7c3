package cli

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"sarpipe/internal/toolchain"
)

const testCommit = "a1b2c3d4e5f60718293a4b5c6d7e8f9012345678"

func TestRunToolchainRejectsInvalidSpec(t *testing.T) {
	err := RunToolchain(context.Background(), ToolchainOptions{
		Spec: toolchain.Spec{
			RepoURL:       "https://example.com/toolchain.git",
			Commit:        "main",
			SourceDir:     "/tmp/src",
			InstallPrefix: "/tmp/prefix",
		},
		WorkDir: t.TempDir(),
	})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
	if ExitCodeFor(err) != ExitConfigError {
		t.Fatalf("exit code = %d, want %d", ExitCodeFor(err), ExitConfigError)
	}
}

func TestRunToolchainRejectsRelativeWorkDir(t *testing.T) {
	err := RunToolchain(context.Background(), ToolchainOptions{
		Spec: toolchain.Spec{
			RepoURL:       "https://example.com/toolchain.git",
			Commit:        testCommit,
			SourceDir:     "/tmp/src",
			InstallPrefix: "/tmp/prefix",
		},
		WorkDir: "relative",
	})
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("err = %v, want InvocationError", err)
	}
}

func TestRunToolchainFailedStageIsPipelineFailure(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	// The clone stage fails fast against an unreachable repository path,
	// which exercises the failure mapping without a network dependency.
	err := RunToolchain(context.Background(), ToolchainOptions{
		Spec: toolchain.Spec{
			RepoURL:       dir + "/no-such-repo",
			Commit:        testCommit,
			SourceDir:     dir + "/src",
			InstallPrefix: dir + "/prefix",
		},
		WorkDir: dir,
	})
	var pipeErr *PipelineError
	if !errors.As(err, &pipeErr) {
		t.Fatalf("err = %v, want PipelineError", err)
	}
	if len(pipeErr.FailedStages) == 0 || pipeErr.FailedStages[0] != toolchain.StageSource {
		t.Fatalf("failed stages = %v, want [%s ...]", pipeErr.FailedStages, toolchain.StageSource)
	}
}
