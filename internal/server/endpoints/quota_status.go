package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/quota"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

// QuotaStatusEndpoint handles GET /api/quota.
type QuotaStatusEndpoint struct{}

func (e *QuotaStatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/quota", e.handler
}

func (e *QuotaStatusEndpoint) RequiresAuth() bool { return true }

// handler godoc
//
//	@Summary		Daily quota status
//	@Description	Returns today's usage, remaining headroom, and reset time
//	@Tags			quota
//	@Produce		json
//	@Success		200	{object}	quota.Status
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/quota [get]
func (e *QuotaStatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	mgr := svcctx.QuotaFrom(r.Context())
	if mgr == nil {
		writeError(w, http.StatusServiceUnavailable, "quota manager not initialized")
		return
	}

	status, err := mgr.GetStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read quota: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (e *QuotaStatusEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show today's generation quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp quota.Status
			if err := getClient().Get(cmd.Context(), "/api/quota", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
