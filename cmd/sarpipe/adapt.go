package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sarpipe/internal/notebook"
)

var adaptCmd = &cobra.Command{
	Use:   "adapt <notebook-export.py> <output.py>",
	Short: "Rewrite a notebook-exported script to run standalone",
	Long: `Strips the Colab bootstrap block, blanks notebook shell escapes,
and wraps the processing body in a main guard so the script runs under a
plain interpreter.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := notebook.NewTransformer()
		if err := t.TransformFile(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adaptCmd)
}
