package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sarpipe/internal/cli"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset <url|name> [delete-archive]",
	Short: "Download a dataset, run its test script, and report",
	Long: `Downloads and extracts the named dataset archive into the working
directory, prints the disk usage report, runs the matching test script,
and prints SUCCESS when it exits zero.

With no second argument the archive is kept after extraction. A single
second argument deletes it. More arguments are an error.`,
	// The positional contract is part of the CI interface: zero extra
	// arguments keep the archive, exactly one deletes it, anything else
	// is a usage error.
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) < 1 || len(args) > 2 {
			cmd.Usage()
			return &cli.InvocationError{
				Message:  fmt.Sprintf("dataset takes 1 or 2 arguments, got %d", len(args)),
				ExitCode: cli.ExitPipelineFailure,
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		datasets, err := buildDatasetManager()
		if err != nil {
			return err
		}
		return cli.RunDataset(cmd.Context(), cli.DatasetOptions{
			Source:        args[0],
			DeleteArchive: len(args) == 2,
			WorkDir:       workDir,
			ToolchainBin:  datasetToolchainBin,
			Manager:       datasets,
			Logger:        logger,
			Stdout:        os.Stdout,
		})
	},
}

var datasetToolchainBin string

func init() {
	datasetCmd.Flags().StringVar(&datasetToolchainBin, "toolchain-bin", "", "installed toolchain bin directory to prepend to the script's PATH")
	rootCmd.AddCommand(datasetCmd)
}
