package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hivemindhq/hivemind/internal/cli"
	"github.com/hivemindhq/hivemind/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hivemindd",
		Short: "Hivemind daemon and admin CLI",
		Long:  "Hivemind daemon for running the API server, background workers, and managing workspaces and API keys",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.WorkspaceCmd())
	rootCmd.AddCommand(admin.APIKeyCmd())
	rootCmd.AddCommand(admin.DeadLetterCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
