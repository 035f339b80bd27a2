// Package quota tracks the shared daily budget of external API calls.
//
// The counter lives in Redis keyed by UTC calendar day, so day rollover is
// a new key rather than a reset, and check-and-reserve is a single Lua
// script: one read-modify-write, never read-then-write. If Redis is
// unreachable the manager denies — under-utilization is recoverable,
// quota overrun is not.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the daily counter keys.
const DefaultKeyPrefix = "backlist:quota:"

// keyTTL keeps yesterday's counter around briefly for inspection.
const keyTTL = 48 * time.Hour

// reserveScript atomically checks headroom and, when ARGV[3] is "1",
// reserves the cost in the same step. Returns {allowed, used}.
var reserveScript = redis.NewScript(`
local used = tonumber(redis.call('GET', KEYS[1]) or '0')
local cost = tonumber(ARGV[1])
local headroom = tonumber(ARGV[2])
if used + cost > headroom then
	return {0, used}
end
if ARGV[3] == '1' then
	used = redis.call('INCRBY', KEYS[1], cost)
	redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
end
return {1, used}
`)

// Status is a point-in-time view of the daily counter.
type Status struct {
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	DailyLimit   int       `json:"daily_limit"`
	SafetyBuffer int       `json:"safety_buffer"`
	ResetsAt     time.Time `json:"resets_at"`
}

// Manager exposes the atomic reserve path over the counter store.
type Manager struct {
	client       *redis.Client
	dailyLimit   int
	safetyBuffer int
	keyPrefix    string
	now          func() time.Time
	logger       *slog.Logger
}

// Config configures a new Manager.
type Config struct {
	Client       *redis.Client
	DailyLimit   int
	SafetyBuffer int

	// KeyPrefix overrides the counter key namespace (tests).
	KeyPrefix string
	// Now overrides the clock (tests).
	Now    func() time.Time
	Logger *slog.Logger
}

// NewManager creates a quota manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.DailyLimit <= 0 {
		return nil, fmt.Errorf("daily limit must be positive, got %d", cfg.DailyLimit)
	}
	if cfg.SafetyBuffer < 0 || cfg.SafetyBuffer >= cfg.DailyLimit {
		return nil, fmt.Errorf("safety buffer %d must be in [0, %d)", cfg.SafetyBuffer, cfg.DailyLimit)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		client:       cfg.Client,
		dailyLimit:   cfg.DailyLimit,
		safetyBuffer: cfg.SafetyBuffer,
		keyPrefix:    keyPrefix,
		now:          now,
		logger:       logger.With("component", "quota"),
	}, nil
}

// Check reports whether cost fits inside today's headroom
// (limit - buffer). With reserve, an allowed check increments the counter
// atomically as part of the same script. Any store error denies.
func (m *Manager) Check(ctx context.Context, cost int, reserve bool) (bool, Status, error) {
	if cost < 0 {
		return false, Status{}, fmt.Errorf("negative cost %d", cost)
	}

	reserveArg := "0"
	if reserve {
		reserveArg = "1"
	}

	res, err := reserveScript.Run(ctx, m.client,
		[]string{m.key()},
		cost, m.headroom(), reserveArg, int(keyTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		return false, Status{}, fmt.Errorf("quota store unreachable, failing closed: %w", err)
	}
	if len(res) != 2 {
		return false, Status{}, fmt.Errorf("unexpected quota script result: %v", res)
	}

	allowed := res[0] == 1
	status := m.statusFor(int(res[1]))

	if !allowed {
		m.logger.Info("quota check denied",
			"cost", cost, "used", status.Used, "remaining", status.Remaining)
	}
	return allowed, status, nil
}

// RecordCalls increments the counter unconditionally, for the cases where
// cost is only known after the call returns (variable batch sizes).
func (m *Manager) RecordCalls(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	pipe := m.client.TxPipeline()
	pipe.IncrBy(ctx, m.key(), int64(n))
	pipe.Expire(ctx, m.key(), keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record %d api calls: %w", n, err)
	}
	return nil
}

// GetStatus reads the counter without reserving anything.
func (m *Manager) GetStatus(ctx context.Context) (Status, error) {
	used, err := m.client.Get(ctx, m.key()).Int()
	if err == redis.Nil {
		used = 0
	} else if err != nil {
		return Status{}, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return m.statusFor(used), nil
}

func (m *Manager) headroom() int {
	return m.dailyLimit - m.safetyBuffer
}

// key returns today's counter key; day rollover is handled lazily by
// keying on the UTC date.
func (m *Manager) key() string {
	return m.keyPrefix + m.now().UTC().Format("2006-01-02")
}

func (m *Manager) statusFor(used int) Status {
	remaining := m.headroom() - used
	if remaining < 0 {
		remaining = 0
	}
	day := m.now().UTC().Truncate(24 * time.Hour)
	return Status{
		Used:         used,
		Remaining:    remaining,
		DailyLimit:   m.dailyLimit,
		SafetyBuffer: m.safetyBuffer,
		ResetsAt:     day.Add(24 * time.Hour),
	}
}
