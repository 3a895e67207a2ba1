package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatgw/gateway/internal/infrastructure/config"
)

const (
	appName    = "chatgw"
	appVersion = "0.1.0"
)

func main() {
	root := &cobra.Command{
		Use:   appName,
		Short: "OpenAI-compatible gateway fronting unofficial vendor web-chat backends",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newAccountsCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s v%s\n", appName, appVersion)
			return nil
		},
	}
}

// loadConfig is shared by every subcommand that needs the layered config.
func loadConfig() (*config.Config, error) {
	return config.Load()
}
