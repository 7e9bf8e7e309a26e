package main

import (
	"fmt"

	"github.com/aretw0/goplan/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the workflow as a Mermaid diagram",
	Long:  `Outputs a Mermaid diagram (graph TD) of the planning workflow. With --id, the steps a stored conversation went through are highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		var overlay *graph.Overlay
		if id, _ := cmd.Flags().GetString("id"); id != "" {
			state, err := engine.Inspect(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("loading conversation '%s': %w", id, err)
			}
			overlay = &graph.Overlay{Trail: state.Trail}
			if state.Suspension != nil {
				overlay.PendingStep = state.Suspension.Step
			}
		}

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(engine.Graph(), overlay))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().String("id", "", "Highlight the trail of a stored conversation")
}
