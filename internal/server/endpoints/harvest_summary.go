package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

// HarvestSummaryEndpoint handles GET /api/harvest/summary.
type HarvestSummaryEndpoint struct{}

func (e *HarvestSummaryEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/harvest/summary", e.handler
}

func (e *HarvestSummaryEndpoint) RequiresAuth() bool { return true }

// handler godoc
//
//	@Summary		Ledger progress summary
//	@Description	Returns per-status month counts and cumulative generation totals
//	@Tags			harvest
//	@Produce		json
//	@Success		200	{object}	harvest.Summary
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/harvest/summary [get]
func (e *HarvestSummaryEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	state := svcctx.StateFrom(r.Context())
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "harvest ledger not initialized")
		return
	}

	summary, err := state.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read summary: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (e *HarvestSummaryEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show harvest ledger progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp harvest.Summary
			if err := getClient().Get(cmd.Context(), "/api/harvest/summary", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
