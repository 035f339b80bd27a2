package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/queue"
	"github.com/jackzampolin/backlist/internal/quota"
)

// errQuotaExhausted stops selection for the rest of the run. It never
// escapes Run; callers see BatchResult.QuotaExhausted instead.
var errQuotaExhausted = errors.New("daily quota exhausted")

// Run executes one backfill batch. Per-month failures land in the result;
// only store unavailability (quota counter or ledger unreachable) aborts
// the batch with an error, and then with no guessed progress.
func (s *Scheduler) Run(ctx context.Context, opts RunOptions) (*BatchResult, error) {
	result := &BatchResult{
		RunID:     newRunID(),
		StartedAt: time.Now().UTC(),
	}
	logger := s.logger.With("run_id", result.RunID)

	// Pre-check without reserving: if today's budget cannot cover even one
	// month, select nothing at all.
	allowed, qst, err := s.quota.Check(ctx, s.generationCost, false)
	if err != nil {
		return nil, fmt.Errorf("quota pre-check failed: %w", err)
	}
	result.QuotaRemaining = qst.Remaining
	if !allowed {
		result.QuotaExhausted = true
		result.FinishedAt = time.Now().UTC()
		logger.Info("batch not started, quota exhausted", "remaining", qst.Remaining)
		return result, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	// One snapshot query: every candidate month is selected as of the same
	// point in time, most recent period first.
	months, err := s.state.SelectBatch(ctx, batchSize)
	if err != nil {
		return nil, err
	}
	result.Selected = len(months)
	logger.Info("batch selected", "months", len(months), "batch_size", batchSize)

	for _, m := range months {
		res, st, err := s.processMonth(ctx, m, opts.PromptOverride)
		if st.DailyLimit > 0 {
			result.QuotaRemaining = st.Remaining
		}
		if errors.Is(err, errQuotaExhausted) {
			result.QuotaExhausted = true
			logger.Info("stopping batch, quota exhausted", "remaining", result.QuotaRemaining)
			break
		}
		if err != nil {
			result.FinishedAt = time.Now().UTC()
			return result, err
		}

		result.Months = append(result.Months, res)
		switch res.Outcome {
		case OutcomeCompleted:
			result.Completed++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
	}

	result.FinishedAt = time.Now().UTC()
	logger.Info("batch finished",
		"completed", result.Completed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"quota_exhausted", result.QuotaExhausted,
	)
	return result, nil
}

// processMonth handles one month end to end. The returned error is nil for
// every per-month outcome; it is non-nil only for conditions that stop the
// whole batch (quota exhaustion, store unavailability).
func (s *Scheduler) processMonth(ctx context.Context, m harvest.Month, promptOverride string) (MonthResult, quota.Status, error) {
	res := MonthResult{Year: m.Year, Month: m.MonthNum}
	logger := s.logger.With("work_unit", m.Ref())

	locked, err := s.locker.Acquire(ctx, m.Year, m.MonthNum, s.lockTimeout)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Error = fmt.Sprintf("lock acquisition failed: %v", err)
		return res, quota.Status{}, nil
	}
	if !locked {
		// Another runner owns this month. Not an error.
		res.Outcome = OutcomeSkipped
		res.Error = "lock held by another runner"
		logger.Info("month skipped, lock contended")
		return res, quota.Status{}, nil
	}
	// Release is never transactional and must happen even on error paths.
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), m.Year, m.MonthNum); err != nil {
			logger.Warn("failed to release month lock", "error", err)
		}
	}()

	// Atomically reserve this month's generation budget before any work.
	allowed, qst, err := s.quota.Check(ctx, s.generationCost, true)
	if err != nil {
		return res, qst, fmt.Errorf("quota reservation failed: %w", err)
	}
	if !allowed {
		return res, qst, errQuotaExhausted
	}

	tx, err := s.state.BeginTx(ctx)
	if err != nil {
		return res, qst, err
	}
	finished := false
	defer func() {
		if !finished {
			tx.Rollback() //nolint:errcheck // rollback after commit is a no-op
		}
	}()

	// failed months pass through retry before processing.
	from := m.Status
	if from == harvest.StatusFailed {
		moved, err := s.state.MarkRetry(ctx, tx, m.Year, m.MonthNum)
		if err != nil {
			return res, qst, err
		}
		if !moved {
			res.Outcome = OutcomeSkipped
			res.Error = "month no longer failed, selection raced"
			return res, qst, nil
		}
		from = harvest.StatusRetry
	}

	if err := harvest.CheckTransition(from, harvest.StatusProcessing); err != nil {
		res.Outcome = OutcomeSkipped
		res.Error = err.Error()
		return res, qst, nil
	}
	moved, err := s.state.MarkProcessing(ctx, tx, m.Year, m.MonthNum)
	if err != nil {
		return res, qst, err
	}
	if !moved {
		// Guard saw a concurrent transition; the lock should make this
		// impossible, the guard is defense in depth.
		res.Outcome = OutcomeSkipped
		res.Error = "status guard rejected transition"
		logger.Warn("status guard rejected transition despite lock")
		return res, qst, nil
	}

	genResult, err := s.generator.Generate(ctx, m.Year, m.MonthNum, promptOverride)
	if err != nil {
		return s.failMonth(ctx, tx, &finished, res, logger, fmt.Errorf("generation failed: %w", err)), qst, nil
	}

	survivors, dedupStats, err := s.deduper.Deduplicate(ctx, genResult.Candidates)
	if err != nil {
		return s.failMonth(ctx, tx, &finished, res, logger, fmt.Errorf("deduplication failed: %w", err)), qst, nil
	}
	res.Dedup = dedupStats

	queued := 0
	for _, c := range survivors {
		msg := queue.NewMessage(c, m.Ref(), s.priority)
		if err := s.dispatcher.Enqueue(ctx, msg); err != nil {
			// Messages already enqueued stay: delivery is at-least-once and
			// the enrichment consumer dedupes on identifier.
			return s.failMonth(ctx, tx, &finished, res, logger, fmt.Errorf("enqueue failed: %w", err)), qst, nil
		}
		queued++
	}

	generated := len(genResult.Candidates) + genResult.Stats.InvalidIdentifierCount
	resolved := genResult.Stats.ValidIdentifierCount
	rate := 0.0
	if generated > 0 {
		rate = float64(resolved) / float64(generated)
	}
	stats := harvest.MonthStats{
		BooksGenerated: generated,
		ISBNsResolved:  resolved,
		ResolutionRate: rate,
		ISBNsQueued:    queued,
	}

	completion, err := s.state.RecordMonthComplete(ctx, tx, m.Year, m.MonthNum, stats)
	if err != nil {
		return s.failMonth(ctx, tx, &finished, res, logger, fmt.Errorf("completion failed: %w", err)), qst, nil
	}
	if err := tx.Commit(); err != nil {
		return s.failMonth(ctx, tx, &finished, res, logger, fmt.Errorf("commit failed: %w", err)), qst, nil
	}
	finished = true

	res.Outcome = OutcomeCompleted
	res.Stats = stats
	res.YearComplete = completion.YearIsComplete
	logger.Info("month completed",
		"generated", stats.BooksGenerated,
		"queued", stats.ISBNsQueued,
		"unique", dedupStats.Unique,
		"year_complete", completion.YearIsComplete,
	)
	return res, qst, nil
}

// failMonth rolls the month's transaction back (reverting its status
// transition), records the failure out of band, and returns the per-month
// result. Siblings in the batch are unaffected.
func (s *Scheduler) failMonth(ctx context.Context, tx *sqlx.Tx, finished *bool, res MonthResult, logger *slog.Logger, cause error) MonthResult {
	tx.Rollback() //nolint:errcheck // rollback after failed commit is a no-op
	*finished = true

	cleanupCtx := context.WithoutCancel(ctx)
	if err := s.state.RecordFailure(cleanupCtx, res.Year, res.Month, cause.Error()); err != nil {
		logger.Error("failed to record month failure", "error", err)
	}

	res.Outcome = OutcomeFailed
	res.Error = cause.Error()
	logger.Error("month failed", "error", cause)
	return res
}
