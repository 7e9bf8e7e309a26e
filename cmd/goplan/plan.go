package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/goplan/internal/presentation/tui"
	"github.com/aretw0/goplan/pkg/domain"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var planCmd = &cobra.Command{
	Use:   "plan [request...]",
	Short: "Plan a trip interactively",
	Long: `Starts a planning conversation. When details are missing goplan asks for them
and, on an interactive terminal, waits for your answer. Without a terminal the
conversation is left suspended and can be continued with 'goplan resume'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, closeStore, err := openEngine(ctx, true)
		if err != nil {
			return err
		}
		defer closeStore()

		input := strings.Join(args, " ")
		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		reader := bufio.NewReader(os.Stdin)
		if input == "" {
			if !interactive {
				return fmt.Errorf("a trip request is required when stdin is not a terminal")
			}
			if input, err = prompt(cmd.OutOrStdout(), reader, "Where would you like to go?"); err != nil {
				return err
			}
		}

		id, _ := cmd.Flags().GetString("id")
		airlines, _ := cmd.Flags().GetStringSlice("airline")
		amenities, _ := cmd.Flags().GetStringSlice("amenity")
		budget, _ := cmd.Flags().GetString("budget")
		jsonMode, _ := cmd.Flags().GetBool("json")

		out, err := engine.Start(ctx, domain.StartRequest{
			ConversationID: id,
			Input:          input,
			Preferences: domain.Preferences{
				PreferredAirlines: airlines,
				HotelAmenities:    amenities,
				BudgetLevel:       budget,
			},
		})
		for err == nil && out.Handle != nil && interactive && !jsonMode {
			var answer string
			answer, err = prompt(cmd.OutOrStdout(), reader, fmt.Sprint(out.Handle.Payload))
			if err != nil {
				break
			}
			out, err = engine.Resume(ctx, out.Handle.ConversationID, answer)
		}
		if err != nil {
			return err
		}
		return printOutcome(cmd.OutOrStdout(), out, jsonMode)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <conversation-id> <answer...>",
	Short: "Answer a suspended conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, closeStore, err := openEngine(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer closeStore()

		out, err := engine.Resume(cmd.Context(), args[0], strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		jsonMode, _ := cmd.Flags().GetBool("json")
		return printOutcome(cmd.OutOrStdout(), out, jsonMode)
	},
}

func prompt(w io.Writer, r *bufio.Reader, question string) (string, error) {
	fmt.Fprintf(w, "%s\n> ", question)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "exit" || line == "quit" {
		return "", context.Canceled
	}
	return line, nil
}

func printOutcome(w io.Writer, out domain.Outcome, jsonMode bool) error {
	if jsonMode {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	st := out.State
	switch st.Status {
	case domain.StatusAwaitingInput:
		fmt.Fprintf(w, "%v\n\nContinue with: goplan resume %s <answer>\n", out.Handle.Payload, st.ConversationID)
	case domain.StatusCompleted:
		rendered, err := tui.NewRenderer()(st.FinalOutput)
		if err != nil {
			rendered = st.FinalOutput
		}
		fmt.Fprint(w, rendered)
	default:
		fmt.Fprintf(w, "Conversation %s ended with status %s.\n", st.ConversationID, st.Status)
	}
	for _, e := range st.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", e.Step, e.Message)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(resumeCmd)

	planCmd.Flags().String("id", "", "Conversation ID (generated when empty)")
	planCmd.Flags().StringSlice("airline", nil, "Preferred airline (repeatable)")
	planCmd.Flags().StringSlice("amenity", nil, "Desired hotel amenity (repeatable)")
	planCmd.Flags().String("budget", "medium", "Budget level (low, medium, high)")
	planCmd.Flags().Bool("json", false, "Print the outcome as JSON and never prompt")
	resumeCmd.Flags().Bool("json", false, "Print the outcome as JSON")
}
