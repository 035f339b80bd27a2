// Package queue dispatches surviving candidates to the downstream
// enrichment pipeline over a Redis list. Delivery is at-least-once; the
// enrichment consumer is expected to be idempotent on identifier.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jackzampolin/backlist/internal/types"
)

// DefaultQueueKey is the Redis list the enrichment consumer drains.
const DefaultQueueKey = "backlist:enrichment"

const (
	defaultEnqueueAttempts = 3
	defaultEnqueueDelay    = 200 * time.Millisecond
)

// Message is the enrichment job payload, one per surviving candidate.
type Message struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier,omitempty"`
	Title      string    `json:"title"`
	Authors    []string  `json:"authors,omitempty"`
	WorkUnit   string    `json:"work_unit"`
	Priority   int       `json:"priority"`
	SourceTag  string    `json:"source_tag,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewMessage builds an enrichment message for a candidate of a work unit.
func NewMessage(c types.Candidate, workUnit string, priority int) Message {
	return Message{
		ID:         uuid.NewString(),
		Identifier: c.ISBN,
		Title:      c.Title,
		Authors:    c.Authors,
		WorkUnit:   workUnit,
		Priority:   priority,
		SourceTag:  c.SourceTag,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Dispatcher is the scheduler's view of the queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Publisher pushes enrichment messages onto the Redis list.
type Publisher struct {
	client   *redis.Client
	key      string
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
}

// PublisherConfig configures a new Publisher.
type PublisherConfig struct {
	Client *redis.Client
	Logger *slog.Logger

	// QueueKey overrides the list key (tests).
	QueueKey string
	// Attempts bounds transient retry (default 3).
	Attempts uint
	// Delay is the base retry backoff (default 200ms).
	Delay time.Duration
}

// NewPublisher creates an enrichment queue publisher.
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = DefaultQueueKey
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultEnqueueAttempts
	}
	if cfg.Delay == 0 {
		cfg.Delay = defaultEnqueueDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client:   cfg.Client,
		key:      cfg.QueueKey,
		attempts: cfg.Attempts,
		delay:    cfg.Delay,
		logger:   logger.With("component", "queue"),
	}, nil
}

// Enqueue pushes one message, retrying transient failures. A message that
// still fails after the retry budget is the caller's problem: the month's
// transaction rolls back and the month is retried later.
func (p *Publisher) Enqueue(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal enrichment message: %w", err)
	}

	err = retry.Do(
		func() error {
			return p.client.LPush(ctx, p.key, payload).Err()
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %q: %w", msg.Title, err)
	}

	p.logger.Debug("candidate enqueued",
		"id", msg.ID, "identifier", msg.Identifier, "work_unit", msg.WorkUnit)
	return nil
}

// Depth reports the number of undelivered messages.
func (p *Publisher) Depth(ctx context.Context) (int64, error) {
	depth, err := p.client.LLen(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}
