package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/relaydesk/graphgate/cmd/config"
	"github.com/relaydesk/graphgate/cmd/helpers"
	"github.com/relaydesk/graphgate/cmd/token"
)

var graphgateCmd = &cobra.Command{
	Use:   "graphgate",
	Short: "Graphgate manages Microsoft Graph credentials and resilient API clients",
	Long: `Graphgate is the Graph access layer for tracked-mailbox services.
It acquires and caches application tokens, validates the stored identity
configuration, and builds API clients with retry, backoff and rate-limit
cooldown built in.`,
}

func Execute() {
	if err := graphgateCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	graphgateCmd.PersistentFlags().StringVarP(&helpers.ConfigFile, "config", "c", "", "Path to an HCL configuration file")

	graphgateCmd.AddCommand(configcmd.ConfigCmd)
	graphgateCmd.AddCommand(token.TokenCmd)
}
