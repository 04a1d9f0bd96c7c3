package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sarpipe/internal/config"
	"sarpipe/internal/logging"
)

var (
	verbose bool
	workDir string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "sarpipe",
	Short:         "Deterministic pipeline runner for SAR interferometry CI",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		var err error
		logger, err = logging.New(cfg.LogLevel, verbose)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		if workDir == "" {
			workDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
		}
		workDir, err = filepath.Abs(workDir)
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "w", "", "working directory (default: current directory)")
}
