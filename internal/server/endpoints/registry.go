package endpoints

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
)

// All returns all endpoint instances.
func All() []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},

		// Harvest endpoints
		&RunHarvestEndpoint{},
		&HarvestSummaryEndpoint{},
		&ListMonthsEndpoint{},
		&SeedEndpoint{},

		// Quota endpoint
		&QuotaStatusEndpoint{},
	}
}

// HarvestCommands groups harvest endpoints under a "harvest" subcommand.
func HarvestCommands(getClient func() *api.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest ledger operations",
	}
	for _, ep := range []api.Endpoint{
		&RunHarvestEndpoint{},
		&HarvestSummaryEndpoint{},
		&ListMonthsEndpoint{},
		&SeedEndpoint{},
	} {
		cmd.AddCommand(ep.Command(getClient))
	}
	return cmd
}
