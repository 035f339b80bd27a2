// Package locks provides session-scoped mutual exclusion over Postgres
// advisory locks, one lock per harvest month.
//
// Each held lock pins its own database connection: advisory locks are
// session-scoped, so a holder that crashes without releasing is cleaned up
// by connection teardown on the server side. Release is always an explicit
// call, never implied by transaction commit.
package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// lockClassID namespaces backlist's advisory locks away from any other
// advisory-lock user sharing the database.
const lockClassID = 0x6261

// DefaultPollInterval is the retry cadence while waiting for a lock.
const DefaultPollInterval = 100 * time.Millisecond

// LockKey maps a month to its advisory lock object id.
func LockKey(year, month int) int32 {
	return int32(year*100 + month)
}

// Coordinator acquires and releases per-month advisory locks.
type Coordinator struct {
	db           *sqlx.DB
	pollInterval time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	held map[int32]*sqlx.Conn
}

// Config configures a new Coordinator.
type Config struct {
	DB     *sqlx.DB
	Logger *slog.Logger

	// PollInterval overrides the acquire retry cadence (tests).
	PollInterval time.Duration
}

// NewCoordinator creates a lock coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		db:           cfg.DB,
		pollInterval: pollInterval,
		logger:       logger.With("component", "locks"),
		held:         make(map[int32]*sqlx.Conn),
	}, nil
}

// Acquire tries to take the month's lock, polling until timeout. A false
// return means another runner owns the month; callers skip it, this is not
// an error. The lock rides a dedicated connection held until Release.
func (c *Coordinator) Acquire(ctx context.Context, year, month int, timeout time.Duration) (bool, error) {
	key := LockKey(year, month)

	c.mu.Lock()
	if _, ok := c.held[key]; ok {
		c.mu.Unlock()
		return false, fmt.Errorf("lock for %04d-%02d already held by this coordinator", year, month)
	}
	c.mu.Unlock()

	conn, err := c.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to pin lock connection: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		if err := conn.GetContext(ctx, &locked,
			`SELECT pg_try_advisory_lock($1, $2)`, lockClassID, key); err != nil {
			conn.Close()
			return false, fmt.Errorf("advisory lock query failed: %w", err)
		}
		if locked {
			c.mu.Lock()
			c.held[key] = conn
			c.mu.Unlock()
			c.logger.Debug("lock acquired", "year", year, "month", month)
			return true, nil
		}

		if time.Now().Add(c.pollInterval).After(deadline) {
			conn.Close()
			c.logger.Debug("lock contended, skipping", "year", year, "month", month)
			return false, nil
		}

		select {
		case <-ctx.Done():
			conn.Close()
			return false, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Release frees the month's lock and its pinned connection. Safe to call
// from a deferred cleanup path: releasing a lock that is not held is a
// no-op.
func (c *Coordinator) Release(ctx context.Context, year, month int) error {
	key := LockKey(year, month)

	c.mu.Lock()
	conn, ok := c.held[key]
	delete(c.held, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	// The connection close frees the lock server-side even if the unlock
	// call itself fails, so close unconditionally.
	defer conn.Close()

	var released bool
	if err := conn.GetContext(ctx, &released,
		`SELECT pg_advisory_unlock($1, $2)`, lockClassID, key); err != nil {
		return fmt.Errorf("advisory unlock query failed: %w", err)
	}
	if !released {
		c.logger.Warn("advisory unlock reported not held", "year", year, "month", month)
	}
	return nil
}

// Held reports whether this coordinator currently holds the month's lock.
func (c *Coordinator) Held(year, month int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[LockKey(year, month)]
	return ok
}

// ReleaseAll frees every held lock, for shutdown paths.
func (c *Coordinator) ReleaseAll(ctx context.Context) {
	c.mu.Lock()
	keys := make([]int32, 0, len(c.held))
	for key := range c.held {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	for _, key := range keys {
		year, month := int(key)/100, int(key)%100
		if err := c.Release(ctx, year, month); err != nil {
			c.logger.Warn("failed to release lock during shutdown",
				"year", year, "month", month, "error", err)
		}
	}
}
