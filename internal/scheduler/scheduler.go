// Package scheduler orchestrates the backfill: it selects eligible months
// from the harvest ledger in one snapshot, and for each month acquires its
// advisory lock, transitions status under guard, generates and deduplicates
// candidates, reserves quota, and dispatches survivors to the enrichment
// queue.
//
// Months are independent. A failure inside one month rolls back that
// month's transaction and never disturbs its siblings; lock contention is
// a skip, not an error; quota exhaustion stops selection and is reported,
// not thrown.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/backlist/internal/dedup"
	"github.com/jackzampolin/backlist/internal/generator"
	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/queue"
	"github.com/jackzampolin/backlist/internal/quota"
	"github.com/jackzampolin/backlist/internal/types"
)

const (
	// DefaultBatchSize is how many months one run may process.
	DefaultBatchSize = 5
	// DefaultLockTimeout bounds the wait for a contended month.
	DefaultLockTimeout = 5 * time.Second
	// DefaultGenerationCost is the quota cost reserved per month before
	// its generation call runs.
	DefaultGenerationCost = 1
	// DefaultPriority is stamped on enrichment messages.
	DefaultPriority = 2
)

// Locker is the advisory lock surface the scheduler needs.
// *locks.Coordinator implements it.
type Locker interface {
	Acquire(ctx context.Context, year, month int, timeout time.Duration) (bool, error)
	Release(ctx context.Context, year, month int) error
}

// QuotaChecker is the quota surface the scheduler needs.
// *quota.Manager implements it.
type QuotaChecker interface {
	Check(ctx context.Context, cost int, reserve bool) (bool, quota.Status, error)
}

// Deduper partitions a candidate batch. *dedup.Engine implements it.
type Deduper interface {
	Deduplicate(ctx context.Context, candidates []types.Candidate) ([]types.Candidate, dedup.Stats, error)
}

// Scheduler drives one backfill batch at a time. Multiple scheduler
// processes may run concurrently; cross-process correctness comes from the
// advisory locks plus the guarded status transitions, not from anything
// in-process.
type Scheduler struct {
	state      *harvest.State
	locker     Locker
	quota      QuotaChecker
	generator  generator.Generator
	deduper    Deduper
	dispatcher queue.Dispatcher
	logger     *slog.Logger

	batchSize      int
	lockTimeout    time.Duration
	generationCost int
	priority       int
}

// Config configures a new Scheduler.
type Config struct {
	State      *harvest.State
	Locker     Locker
	Quota      QuotaChecker
	Generator  generator.Generator
	Deduper    Deduper
	Dispatcher queue.Dispatcher
	Logger     *slog.Logger

	BatchSize      int
	LockTimeout    time.Duration
	GenerationCost int
	Priority       int
}

// New creates a scheduler.
func New(cfg Config) (*Scheduler, error) {
	switch {
	case cfg.State == nil:
		return nil, fmt.Errorf("harvest state is required")
	case cfg.Locker == nil:
		return nil, fmt.Errorf("lock coordinator is required")
	case cfg.Quota == nil:
		return nil, fmt.Errorf("quota manager is required")
	case cfg.Generator == nil:
		return nil, fmt.Errorf("candidate generator is required")
	case cfg.Deduper == nil:
		return nil, fmt.Errorf("dedup engine is required")
	case cfg.Dispatcher == nil:
		return nil, fmt.Errorf("queue dispatcher is required")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.GenerationCost <= 0 {
		cfg.GenerationCost = DefaultGenerationCost
	}
	if cfg.Priority <= 0 {
		cfg.Priority = DefaultPriority
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		state:          cfg.State,
		locker:         cfg.Locker,
		quota:          cfg.Quota,
		generator:      cfg.Generator,
		deduper:        cfg.Deduper,
		dispatcher:     cfg.Dispatcher,
		logger:         logger.With("component", "scheduler"),
		batchSize:      cfg.BatchSize,
		lockTimeout:    cfg.LockTimeout,
		generationCost: cfg.GenerationCost,
		priority:       cfg.Priority,
	}, nil
}

// Outcome classifies how one month ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// MonthResult is the per-month entry of a batch result. Failures surface
// here, never as an error that aborts the batch.
type MonthResult struct {
	Year    int     `json:"year"`
	Month   int     `json:"month"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	Stats        harvest.MonthStats `json:"stats,omitempty"`
	Dedup        dedup.Stats        `json:"dedup,omitempty"`
	YearComplete bool               `json:"year_complete,omitempty"`
}

// BatchResult is the outcome of one scheduler run.
type BatchResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Selected  int `json:"selected"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	QuotaExhausted bool `json:"quota_exhausted"`
	QuotaRemaining int  `json:"quota_remaining"`

	Months []MonthResult `json:"months"`
}

// RunOptions tune a single run.
type RunOptions struct {
	// BatchSize overrides the configured batch size when positive.
	BatchSize int `json:"batch_size,omitempty"`
	// PromptOverride replaces the generator's default prompt.
	PromptOverride string `json:"prompt_override,omitempty"`
}

func newRunID() string {
	return uuid.NewString()
}
