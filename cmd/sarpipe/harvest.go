package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sarpipe/internal/artifact"
	"sarpipe/internal/cli"
)

var (
	harvestPatterns []string
	harvestRunID    string
	harvestPublish  bool
)

var harvestCmd = &cobra.Command{
	Use:   "harvest [dir]",
	Short: "Collect plot images into an artifact bundle",
	Long: `Collects the plot images under the given directory (default: the
working directory) into a deterministic tar.gz bundle with a JSON
manifest. Zero matching files fails the command. With --publish the
bundle and files are uploaded to the configured object store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := workDir
		if len(args) == 1 {
			var err error
			dir, err = filepath.Abs(args[0])
			if err != nil {
				return err
			}
		}

		var publisher *artifact.Publisher
		if harvestPublish {
			if !cfg.ObjectStore.Enabled() {
				return &cli.ConfigError{Message: "object store is not configured; set SARPIPE_S3_ENDPOINT and credentials"}
			}
			var err error
			publisher, err = artifact.NewPublisher(cfg.PublisherConfig(), logger)
			if err != nil {
				return err
			}
		}

		return cli.RunHarvest(cmd.Context(), cli.HarvestOptions{
			Dir:       dir,
			Patterns:  harvestPatterns,
			RunID:     harvestRunID,
			Publisher: publisher,
			Logger:    logger,
			Stdout:    os.Stdout,
		})
	},
}

func init() {
	harvestCmd.Flags().StringSliceVar(&harvestPatterns, "pattern", nil, "artifact glob patterns (default: *.jpg)")
	harvestCmd.Flags().StringVar(&harvestRunID, "run-id", "", "run ID to tag the bundle with (default: generated)")
	harvestCmd.Flags().BoolVar(&harvestPublish, "publish", false, "upload the bundle to the configured object store")
	rootCmd.AddCommand(harvestCmd)
}
