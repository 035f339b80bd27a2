package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/api"
	"github.com/jackzampolin/backlist/internal/scheduler"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

// RunHarvestEndpoint handles POST /api/harvest/run.
type RunHarvestEndpoint struct{}

func (e *RunHarvestEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/harvest/run", e.handler
}

func (e *RunHarvestEndpoint) RequiresAuth() bool { return true }

// handler godoc
//
//	@Summary		Trigger a backfill batch
//	@Description	Runs one scheduler batch synchronously and returns the per-month results
//	@Tags			harvest
//	@Accept			json
//	@Produce		json
//	@Param			request	body		scheduler.RunOptions	false	"Optional overrides"
//	@Success		200		{object}	scheduler.BatchResult
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/harvest/run [post]
func (e *RunHarvestEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var opts scheduler.RunOptions
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sched := svcctx.SchedulerFrom(r.Context())
	if sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not initialized")
		return
	}

	result, err := sched.Run(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("batch failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (e *RunHarvestEndpoint) Command(getClient func() *api.Client) *cobra.Command {
	var batchSize int
	var promptOverride string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Trigger a backfill batch",
		Long: `Trigger one backfill batch on the running server.

The batch selects eligible months from the harvest ledger, generates book
candidates for each, deduplicates them against the catalog, and dispatches
survivors to the enrichment queue. The command blocks until the batch
finishes and prints the per-month results.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := scheduler.RunOptions{
				BatchSize:      batchSize,
				PromptOverride: promptOverride,
			}
			var result scheduler.BatchResult
			if err := getClient().Post(cmd.Context(), "/api/harvest/run", opts, &result); err != nil {
				return err
			}
			return api.Output(result)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Override the configured batch size")
	cmd.Flags().StringVar(&promptOverride, "prompt", "", "Override the generation prompt")
	return cmd
}
