package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sarpipe/internal/cli"
	"sarpipe/internal/dataset"
	"sarpipe/internal/recovery/state"
	"sarpipe/internal/workflow"
)

var (
	runMode         string
	runJobs         int
	runTrace        string
	runWatch        bool
	runToolchainBin string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		datasets, err := buildDatasetManager()
		if err != nil {
			return err
		}

		opts := cli.RunOptions{
			WorkflowPath: args[0],
			WorkDir:      workDir,
			CacheDir:     cfg.CacheDir,
			Mode:         state.ExecutionMode(runMode),
			Jobs:         runJobs,
			TracePath:    runTrace,
			ToolchainBin: runToolchainBin,
			Datasets:     datasets,
			Logger:       logger,
		}

		if !runWatch {
			_, err := cli.Run(ctx, opts)
			return err
		}

		doc, err := workflow.Load(args[0])
		if err != nil {
			return err
		}
		inputs := watchInputs(doc)
		w := &workflow.Watcher{Path: args[0], Inputs: inputs, Logger: logger}

		// Run once immediately, then on every change. In watch mode a
		// failing pipeline is reported and watched, not fatal.
		runOnce := func(ctx context.Context) error {
			if _, err := cli.Run(ctx, opts); err != nil {
				logger.Error("pipeline failed", zap.Error(err))
			}
			return nil
		}
		if err := runOnce(ctx); err != nil {
			return err
		}
		logger.Info("watching for changes", zap.String("workflow", args[0]))
		return w.Watch(ctx, runOnce)
	},
}

// watchInputs collects every declared stage input so watch mode reruns
// when source data changes, not only when the workflow file does.
func watchInputs(doc *workflow.Document) []string {
	var inputs []string
	for _, s := range doc.Stages {
		inputs = append(inputs, s.Inputs...)
		if s.Notebook != nil {
			inputs = append(inputs, s.Notebook.Source)
		}
	}
	return inputs
}

func buildDatasetManager() (*dataset.Manager, error) {
	if !cfg.ObjectStore.Enabled() {
		return dataset.NewManager(nil, nil, logger), nil
	}
	store, err := dataset.NewObjectStore(cfg.DatasetStoreConfig(), logger)
	if err != nil {
		return nil, err
	}
	return dataset.NewManager(nil, store, logger), nil
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "incremental", "execution mode: clean|incremental|resume-only")
	runCmd.Flags().IntVarP(&runJobs, "jobs", "j", 1, "maximum stages to run in parallel")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "write the canonical execution trace to this path")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "rerun the pipeline when the workflow or its inputs change")
	runCmd.Flags().StringVar(&runToolchainBin, "toolchain-bin", "", "installed toolchain bin directory to prepend to stage PATHs")
	rootCmd.AddCommand(runCmd)
}
