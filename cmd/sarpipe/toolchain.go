package main

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"sarpipe/internal/cli"
	"sarpipe/internal/recovery/state"
	"sarpipe/internal/toolchain"
)

var (
	toolchainRepo     string
	toolchainCommit   string
	toolchainPrefix   string
	toolchainJobs     int
	toolchainBinaries []string
	toolchainClean    bool
)

var toolchainCmd = &cobra.Command{
	Use:   "toolchain",
	Short: "Manage the external processing toolchain",
}

var toolchainInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Clone, build, install, and verify the pinned toolchain",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs := toolchainJobs
		if jobs <= 0 {
			jobs = runtime.NumCPU()
		}
		spec := toolchain.Spec{
			RepoURL:       toolchainRepo,
			Commit:        toolchainCommit,
			SourceDir:     filepath.Join(workDir, "toolchain-src"),
			OrbitsDir:     cfg.OrbitsDir,
			InstallPrefix: toolchainPrefix,
			Jobs:          jobs,
			Binaries:      toolchainBinaries,
		}

		mode := state.ExecutionModeIncremental
		if toolchainClean {
			mode = state.ExecutionModeClean
		}
		return cli.RunToolchain(cmd.Context(), cli.ToolchainOptions{
			Spec:     spec,
			WorkDir:  workDir,
			CacheDir: cfg.CacheDir,
			Mode:     mode,
			Logger:   logger,
			Stdout:   os.Stdout,
		})
	},
}

func init() {
	toolchainInstallCmd.Flags().StringVar(&toolchainRepo, "repo", "https://github.com/gmtsar/gmtsar", "toolchain source repository")
	toolchainInstallCmd.Flags().StringVar(&toolchainCommit, "commit", "", "full revision hash to build (required)")
	toolchainInstallCmd.Flags().StringVar(&toolchainPrefix, "prefix", "/usr/local/GMTSAR", "install prefix")
	toolchainInstallCmd.Flags().IntVar(&toolchainJobs, "jobs", 0, "make parallelism (default: CPU count)")
	toolchainInstallCmd.Flags().StringSliceVar(&toolchainBinaries, "verify", nil, "binary names to verify after install")
	toolchainInstallCmd.Flags().BoolVar(&toolchainClean, "clean", false, "ignore cached build stages")
	_ = toolchainInstallCmd.MarkFlagRequired("commit")

	toolchainCmd.AddCommand(toolchainInstallCmd)
	rootCmd.AddCommand(toolchainCmd)
}
