package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored conversations",
	Long:  `List, inspect, and remove conversation checkpoints in the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		ids, err := engine.List(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(w, "No stored conversations found.")
			return nil
		}

		fmt.Fprintln(w, "Conversations:")
		for _, id := range ids {
			report, err := engine.Status(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(w, "- %s (%v)\n", id, err)
				continue
			}
			fmt.Fprintf(w, "- %s [%s]\n", id, report.Status)
		}
		return nil
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <conversation-id>",
	Short: "Print the stored state of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		state, err := engine.Inspect(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("loading conversation '%s': %w", args[0], err)
		}
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <conversation-id>...",
	Short: "Remove one or more conversations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer closeStore()

		var errs []error
		for _, id := range args {
			if err := engine.Cancel(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("removing '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed conversation '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)
}
