package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivemindhq/hivemind/internal/cli"
	"github.com/hivemindhq/hivemind/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hivemind",
		Short: "Hivemind CLI - team memory for engineering organizations",
		Long: `Hivemind CLI provides commands to search, fetch, and push to a hivemind deployment.

Environment variables:
  HIVEMIND_API_KEY   API key for authentication (required)
  HIVEMIND_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (overrides env)")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.AnswerCmd())
	rootCmd.AddCommand(client.GetCmd())
	rootCmd.AddCommand(client.ListCmd())
	rootCmd.AddCommand(client.PushCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
