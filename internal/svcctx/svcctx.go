// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/jackzampolin/backlist/internal/catalog"
	"github.com/jackzampolin/backlist/internal/config"
	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/home"
	"github.com/jackzampolin/backlist/internal/locks"
	"github.com/jackzampolin/backlist/internal/queue"
	"github.com/jackzampolin/backlist/internal/quota"
	"github.com/jackzampolin/backlist/internal/scheduler"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	DB        *sqlx.DB
	State     *harvest.State
	Catalog   *catalog.Store
	Locks     *locks.Coordinator
	Quota     *quota.Manager
	Publisher *queue.Publisher
	Scheduler *scheduler.Scheduler
	Config    *config.Manager
	Logger    *slog.Logger
	Home      *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StateFrom extracts the harvest ledger from context.
func StateFrom(ctx context.Context) *harvest.State {
	if s := ServicesFrom(ctx); s != nil {
		return s.State
	}
	return nil
}

// SchedulerFrom extracts the scheduler from context.
func SchedulerFrom(ctx context.Context) *scheduler.Scheduler {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scheduler
	}
	return nil
}

// QuotaFrom extracts the quota manager from context.
func QuotaFrom(ctx context.Context) *quota.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Quota
	}
	return nil
}

// PublisherFrom extracts the queue publisher from context.
func PublisherFrom(ctx context.Context) *queue.Publisher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Publisher
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}
