package main

import (
	"fmt"

	"github.com/aretw0/goplan/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the workflow graph for consistency",
	Long:  `Crawls the planning workflow from its entry step and reports steps that can never run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := validator.ValidateGraph(engine.Graph()); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Graph is valid! ✅")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
