package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/server/endpoints"
)

var (
	serverURL  string
	adminToken string
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running Backlist server via HTTP.

These commands require a running server (backlist serve).
Use --server to specify a custom server URL and --token for the admin token.

Examples:
  backlist api health                         # Check server health
  backlist api quota                          # Show today's quota
  backlist api harvest run --batch-size 3     # Trigger a batch
  backlist api harvest summary                # Ledger progress`,
}

// getClient builds the API client at runtime (after flag parsing).
func getClient() *api.Client {
	return api.NewClient(serverURL, adminToken)
}

func init() {
	// Persistent so all subcommands inherit them
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://localhost:8585", "Server URL",
	)
	apiCmd.PersistentFlags().StringVar(
		&adminToken, "token", "", "Admin token (or BACKLIST_ADMIN_TOKEN on the server side)",
	)

	// Health and quota at top level of api
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getClient))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getClient))
	apiCmd.AddCommand((&endpoints.QuotaStatusEndpoint{}).Command(getClient))

	// Harvest as subcommand group
	apiCmd.AddCommand(endpoints.HarvestCommands(getClient))

	rootCmd.AddCommand(apiCmd)
}
