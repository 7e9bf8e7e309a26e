package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <conversation-id>",
	Short: "Show where a conversation stands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		report, err := engine.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonMode, _ := cmd.Flags().GetBool("json"); jsonMode {
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Conversation: %s\n", report.ConversationID)
		fmt.Fprintf(w, "Status:       %s\n", report.Status)
		fmt.Fprintf(w, "Elapsed:      %s\n", report.Elapsed.Round(time.Second))
		fmt.Fprintf(w, "Updated:      %s\n", report.UpdatedAt.Format(time.RFC3339))
		if report.PendingStep != "" {
			fmt.Fprintf(w, "Waiting at:   %s\n", report.PendingStep)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <conversation-id>",
	Short: "Cancel a conversation and delete its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := engine.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelled conversation '%s'\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	statusCmd.Flags().Bool("json", false, "Print the report as JSON")
}
