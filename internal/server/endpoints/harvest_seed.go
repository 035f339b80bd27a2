package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

// SeedRequest is the request body for seeding the ledger.
type SeedRequest struct {
	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`
}

// SeedResponse reports how many months were inserted.
type SeedResponse struct {
	StartYear int   `json:"start_year"`
	EndYear   int   `json:"end_year"`
	Inserted  int64 `json:"inserted"`
}

// SeedEndpoint handles POST /api/harvest/seed.
type SeedEndpoint struct{}

func (e *SeedEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/harvest/seed", e.handler
}

func (e *SeedEndpoint) RequiresAuth() bool { return true }

// handler godoc
//
//	@Summary		Seed the harvest ledger
//	@Description	Inserts pending month rows for the year range; existing rows are untouched
//	@Tags			harvest
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SeedRequest	true	"Year range (inclusive)"
//	@Success		200		{object}	SeedResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/harvest/seed [post]
func (e *SeedEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state := svcctx.StateFrom(r.Context())
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "harvest ledger not initialized")
		return
	}

	inserted, err := state.SeedRange(r.Context(), req.StartYear, req.EndYear)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("seed failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, SeedResponse{
		StartYear: req.StartYear,
		EndYear:   req.EndYear,
		Inserted:  inserted,
	})
}

func (e *SeedEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var startYear, endYear int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the harvest ledger with pending months",
		Long: `Seed the harvest ledger with one pending row per (year, month) in the
given range. Seeding is idempotent: months already present keep their
status and counters.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := SeedRequest{StartYear: startYear, EndYear: endYear}
			var resp SeedResponse
			if err := getClient().Post(cmd.Context(), "/api/harvest/seed", req, &resp); err != nil {
				return err
			}
			fmt.Printf("Seeded %d months for %d-%d\n", resp.Inserted, resp.StartYear, resp.EndYear)
			return nil
		},
	}
	cmd.Flags().IntVar(&startYear, "start-year", 0, "First year to seed (required)")
	cmd.Flags().IntVar(&endYear, "end-year", 0, "Last year to seed (required)")
	cmd.MarkFlagRequired("start-year")
	cmd.MarkFlagRequired("end-year")
	return cmd
}
