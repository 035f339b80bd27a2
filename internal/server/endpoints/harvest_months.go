package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

// ListMonthsResponse is the response for the month listing endpoint.
type ListMonthsResponse struct {
	Months []harvest.Month `json:"months"`
	Count  int             `json:"count"`
}

// ListMonthsEndpoint handles GET /api/harvest/months.
type ListMonthsEndpoint struct{}

func (e *ListMonthsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/harvest/months", e.handler
}

func (e *ListMonthsEndpoint) RequiresAuth() bool { return true }

// handler godoc
//
//	@Summary		List ledger months
//	@Description	Lists harvest months, optionally filtered by status and year
//	@Tags			harvest
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status (pending, processing, completed, failed, retry)"
//	@Param			year	query		int		false	"Filter by year"
//	@Success		200		{object}	ListMonthsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/harvest/months [get]
func (e *ListMonthsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	state := svcctx.StateFrom(r.Context())
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "harvest ledger not initialized")
		return
	}

	var status harvest.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = harvest.Status(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status: %s", raw))
			return
		}
	}

	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "year must be an integer")
			return
		}
		year = parsed
	}

	months, err := state.ListMonths(r.Context(), status, year)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list months: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, ListMonthsResponse{Months: months, Count: len(months)})
}

func (e *ListMonthsEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var status string
	var year int
	cmd := &cobra.Command{
		Use:   "months",
		Short: "List harvest ledger months",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if year > 0 {
				q.Set("year", strconv.Itoa(year))
			}
			path := "/api/harvest/months"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var resp ListMonthsResponse
			if err := getClient().Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&year, "year", 0, "Filter by year")
	return cmd
}
