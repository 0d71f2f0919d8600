package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaydesk/graphgate/cmd/helpers"
	"github.com/relaydesk/graphgate/graph"
	"github.com/relaydesk/graphgate/helper"
)

var (
	flagTestConnection bool

	ConfigCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate the stored Graph identity configuration",
	}

	validateCmd = &cobra.Command{
		Use:           "validate",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Validate the configuration read from the environment",
		Long: `
Validate the Graph identity configuration stored in the environment
(GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET).

Structural checks run locally and cost nothing. With --test-connection the
credential is additionally exchanged for a token and exercised against the
provider, which proves the secret is currently accepted.

Usage:
  $ graphgate config validate
  $ graphgate config validate --test-connection
`,
		RunE: runValidate,
	}

	showCmd = &cobra.Command{
		Use:           "show",
		SilenceUsage:  true,
		SilenceErrors: true,
		Short:         "Print the stored configuration with the secret redacted",
		RunE:          runShow,
	}
)

func init() {
	validateCmd.Flags().BoolVar(&flagTestConnection, "test-connection", false, "Exchange the credential against the provider")

	ConfigCmd.AddCommand(validateCmd)
	ConfigCmd.AddCommand(showCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	rt, err := helpers.Build()
	if err != nil {
		return err
	}

	cfg := rt.Gate.StoredConfig()
	if cfg == nil {
		return fmt.Errorf("not configured: set %s, %s and %s",
			graph.EnvTenantID, graph.EnvClientID, graph.EnvClientSecret)
	}

	res := rt.Gate.ValidateConfiguration(cmd.Context(), cfg, graph.ValidateOptions{
		TestConnection: flagTestConnection,
	})
	if !res.Success {
		return res.Error
	}

	if flagTestConnection {
		fmt.Println("Configuration is valid and the credential was accepted by the provider.")
	} else {
		fmt.Println("Configuration is structurally valid.")
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	rt, err := helpers.Build()
	if err != nil {
		return err
	}

	cfg := rt.Gate.StoredConfig()
	if cfg == nil {
		fmt.Println("No configuration found in the environment.")
		return nil
	}

	fmt.Printf("Tenant ID:          %s\n", cfg.TenantID)
	fmt.Printf("Client ID:          %s\n", cfg.ClientID)
	fmt.Printf("Secret fingerprint: %s\n", helper.Fingerprint(cfg.ClientSecret))
	fmt.Printf("Active:             %t\n", cfg.Active)
	return nil
}
