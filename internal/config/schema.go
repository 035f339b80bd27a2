package config

import (
	"fmt"
	"time"
)

// Config holds backlist configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Server    ServerCfg    `mapstructure:"server" yaml:"server"`
	Postgres  PostgresCfg  `mapstructure:"postgres" yaml:"postgres"`
	Redis     RedisCfg     `mapstructure:"redis" yaml:"redis"`
	Quota     QuotaCfg     `mapstructure:"quota" yaml:"quota"`
	Scheduler SchedulerCfg `mapstructure:"scheduler" yaml:"scheduler"`
	Generator GeneratorCfg `mapstructure:"generator" yaml:"generator"`
	Dedup     DedupCfg     `mapstructure:"dedup" yaml:"dedup"`
	Queue     QueueCfg     `mapstructure:"queue" yaml:"queue"`
	Harvest   HarvestCfg   `mapstructure:"harvest" yaml:"harvest"`
	Logging   LoggingCfg   `mapstructure:"logging" yaml:"logging"`
}

// ServerCfg configures the admin HTTP server.
type ServerCfg struct {
	Port int `mapstructure:"port" yaml:"port"`
	// AdminToken protects the admin surface (supports ${ENV_VAR} syntax).
	// Empty disables authentication; health and readiness are always open.
	AdminToken string `mapstructure:"admin_token" yaml:"admin_token"`
}

// PostgresCfg configures the catalog and ledger database.
type PostgresCfg struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"` // supports ${ENV_VAR} syntax
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// RedisCfg configures the quota counter and enrichment queue store.
type RedisCfg struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"` // supports ${ENV_VAR} syntax
	DB       int    `mapstructure:"db" yaml:"db"`
}

// QuotaCfg configures the daily generation budget.
type QuotaCfg struct {
	DailyLimit   int `mapstructure:"daily_limit" yaml:"daily_limit"`
	SafetyBuffer int `mapstructure:"safety_buffer" yaml:"safety_buffer"`
}

// SchedulerCfg configures batch execution.
type SchedulerCfg struct {
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	GenerationCost int           `mapstructure:"generation_cost" yaml:"generation_cost"`
	Priority       int           `mapstructure:"priority" yaml:"priority"`
	// Schedule is a cron expression; empty disables the periodic trigger
	// and leaves only the admin endpoint.
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// GeneratorCfg configures the LLM candidate generator.
type GeneratorCfg struct {
	Model         string  `mapstructure:"model" yaml:"model"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key"` // supports ${ENV_VAR} syntax
	BaseURL       string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature   float64 `mapstructure:"temperature" yaml:"temperature"`
	BooksPerMonth int     `mapstructure:"books_per_month" yaml:"books_per_month"`
}

// DedupCfg configures the fuzzy dedup tier.
type DedupCfg struct {
	TitleThreshold  float64 `mapstructure:"title_threshold" yaml:"title_threshold"`
	AuthorThreshold float64 `mapstructure:"author_threshold" yaml:"author_threshold"`
}

// QueueCfg configures enrichment dispatch.
type QueueCfg struct {
	Key           string        `mapstructure:"key" yaml:"key"`
	RetryAttempts int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// HarvestCfg bounds the ledger.
type HarvestCfg struct {
	StartYear  int `mapstructure:"start_year" yaml:"start_year"`
	EndYear    int `mapstructure:"end_year" yaml:"end_year"`
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// LoggingCfg configures slog output.
type LoggingCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Port:       8585,
			AdminToken: "${BACKLIST_ADMIN_TOKEN}",
		},
		Postgres: PostgresCfg{
			DSN:             "${BACKLIST_POSTGRES_DSN}",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisCfg{
			Addr: "localhost:6379",
		},
		Quota: QuotaCfg{
			DailyLimit:   200,
			SafetyBuffer: 10,
		},
		Scheduler: SchedulerCfg{
			BatchSize:      5,
			LockTimeout:    5 * time.Second,
			GenerationCost: 1,
			Priority:       2,
			Schedule:       "0 */2 * * *",
		},
		Generator: GeneratorCfg{
			Model:         "gpt-4o-mini",
			APIKey:        "${OPENAI_API_KEY}",
			Temperature:   0.7,
			BooksPerMonth: 40,
		},
		Dedup: DedupCfg{
			TitleThreshold:  0.85,
			AuthorThreshold: 0.80,
		},
		Queue: QueueCfg{
			Key:           "backlist:enrichment",
			RetryAttempts: 3,
			RetryDelay:    200 * time.Millisecond,
		},
		Harvest: HarvestCfg{
			StartYear:  1950,
			EndYear:    2020,
			MaxRetries: 5,
		},
		Logging: LoggingCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota.daily_limit must be positive, got %d", c.Quota.DailyLimit)
	}
	if c.Quota.SafetyBuffer < 0 {
		return fmt.Errorf("quota.safety_buffer must not be negative, got %d", c.Quota.SafetyBuffer)
	}
	if c.Quota.SafetyBuffer >= c.Quota.DailyLimit {
		return fmt.Errorf("quota.safety_buffer %d leaves no usable budget under limit %d",
			c.Quota.SafetyBuffer, c.Quota.DailyLimit)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Dedup.TitleThreshold <= 0 || c.Dedup.TitleThreshold > 1 {
		return fmt.Errorf("dedup.title_threshold %v out of (0,1]", c.Dedup.TitleThreshold)
	}
	if c.Dedup.AuthorThreshold <= 0 || c.Dedup.AuthorThreshold > 1 {
		return fmt.Errorf("dedup.author_threshold %v out of (0,1]", c.Dedup.AuthorThreshold)
	}
	if c.Harvest.StartYear > c.Harvest.EndYear {
		return fmt.Errorf("harvest.start_year %d after end_year %d", c.Harvest.StartYear, c.Harvest.EndYear)
	}
	return nil
}
