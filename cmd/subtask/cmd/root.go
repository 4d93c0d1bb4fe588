package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "subtask",
	Short: "Subtask is an account and connected-identity service",
	Long: `Subtask manages local accounts, cookie sessions and OAuth connections to
external providers such as GitHub and Google.

Configuration is read from SUBTASK_ prefixed environment variables; flags
override the environment where both exist.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
