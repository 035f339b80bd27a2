package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/backlist/internal/catalog"
	"github.com/jackzampolin/backlist/internal/config"
	"github.com/jackzampolin/backlist/internal/dedup"
	"github.com/jackzampolin/backlist/internal/generator"
	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/home"
	"github.com/jackzampolin/backlist/internal/locks"
	"github.com/jackzampolin/backlist/internal/postgres"
	"github.com/jackzampolin/backlist/internal/queue"
	"github.com/jackzampolin/backlist/internal/quota"
	"github.com/jackzampolin/backlist/internal/scheduler"
	"github.com/jackzampolin/backlist/internal/server"
	"github.com/jackzampolin/backlist/internal/svcctx"
)

var serveHost string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Backlist server",
	Long: `Start the Backlist HTTP server.

This connects to Postgres and Redis, seeds the harvest ledger for the
configured year range, and starts the admin API plus the periodic batch
trigger (when scheduler.schedule is set).

The server provides:
  - /health               - Basic server health check
  - /ready                - Readiness check (Postgres + Redis)
  - /api/harvest/run      - Trigger a backfill batch
  - /api/harvest/summary  - Ledger progress
  - /api/harvest/months   - List ledger months
  - /api/harvest/seed     - Seed the ledger
  - /api/quota            - Today's quota status

Examples:
  backlist serve                 # Start on default port 8585
  backlist serve --host 0.0.0.0  # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}

		cfgPath := cfgFile
		if cfgPath == "" && h.ConfigExists() {
			cfgPath = h.ConfigPath()
		}
		cfgMgr, err := config.NewManager(cfgPath)
		if err != nil {
			return err
		}
		cfgMgr.WatchConfig()
		cfg := cfgMgr.Get().Resolved()

		logger := newLogger(cfg.Logging)
		slog.SetDefault(logger)

		// Postgres: catalog, harvest ledger, advisory locks.
		db, err := postgres.Connect(postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}

		state := harvest.NewState(db, cfg.Harvest.MaxRetries)
		if inserted, err := state.SeedRange(ctx, cfg.Harvest.StartYear, cfg.Harvest.EndYear); err != nil {
			return err
		} else if inserted > 0 {
			logger.Info("seeded harvest ledger",
				"start_year", cfg.Harvest.StartYear,
				"end_year", cfg.Harvest.EndYear,
				"inserted", inserted,
			)
		}

		coordinator, err := locks.NewCoordinator(locks.Config{DB: db, Logger: logger})
		if err != nil {
			return err
		}

		// Redis: quota counter and enrichment queue.
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		quotaMgr, err := quota.NewManager(quota.Config{
			Client:       redisClient,
			DailyLimit:   cfg.Quota.DailyLimit,
			SafetyBuffer: cfg.Quota.SafetyBuffer,
			Logger:       logger,
		})
		if err != nil {
			return err
		}

		publisher, err := queue.NewPublisher(queue.PublisherConfig{
			Client:   redisClient,
			QueueKey: cfg.Queue.Key,
			Attempts: uint(cfg.Queue.RetryAttempts),
			Delay:    cfg.Queue.RetryDelay,
			Logger:   logger,
		})
		if err != nil {
			return err
		}

		engine, err := dedup.NewEngine(dedup.Config{
			Catalog:         catalog.NewStore(db),
			TitleThreshold:  cfg.Dedup.TitleThreshold,
			AuthorThreshold: cfg.Dedup.AuthorThreshold,
			Logger:          logger,
		})
		if err != nil {
			return err
		}

		gen, err := generator.NewOpenAIGenerator(generator.OpenAIConfig{
			APIKey:      cfg.Generator.APIKey,
			Model:       cfg.Generator.Model,
			BaseURL:     cfg.Generator.BaseURL,
			BatchSize:   cfg.Generator.BooksPerMonth,
			Temperature: cfg.Generator.Temperature,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		sched, err := scheduler.New(scheduler.Config{
			State:          state,
			Locker:         coordinator,
			Quota:          quotaMgr,
			Generator:      gen,
			Deduper:        engine,
			Dispatcher:     publisher,
			Logger:         logger,
			BatchSize:      cfg.Scheduler.BatchSize,
			LockTimeout:    cfg.Scheduler.LockTimeout,
			GenerationCost: cfg.Scheduler.GenerationCost,
			Priority:       cfg.Scheduler.Priority,
		})
		if err != nil {
			return err
		}

		srv, err := server.New(server.Config{
			Host:       serveHost,
			Port:       cfg.Server.Port,
			AdminToken: cfg.Server.AdminToken,
			Schedule:   cfg.Scheduler.Schedule,
			Logger:     logger,
			Services: &svcctx.Services{
				DB:        db,
				State:     state,
				Catalog:   catalog.NewStore(db),
				Locks:     coordinator,
				Quota:     quotaMgr,
				Publisher: publisher,
				Scheduler: sched,
				Config:    cfgMgr,
				Logger:    logger,
				Home:      h,
			},
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

// newLogger builds the slog logger from config.
func newLogger(cfg config.LoggingCfg) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")

	rootCmd.AddCommand(serveCmd)
}
