package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/goplan"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of goplan",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "goplan version %s\n", strings.TrimSpace(goplan.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
