// Package config loads avitosentry's runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all process configuration, loaded from environment
// variables. Both the supervisor and the worker binaries read this; most
// fields only matter to one of the two roles.
type Config struct {
	// Mode selects the process role: "supervisor" or "worker".
	Mode string `env:"AVITOSENTRY_MODE" envDefault:"supervisor"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"avitosentry"`
	DBUser     string `env:"DB_USER" envDefault:"avitosentry"`
	DBPassword string `env:"DB_PASSWORD"`

	PoolMinSize int `env:"POOL_MIN_SIZE" envDefault:"2"`
	PoolMaxSize int `env:"POOL_MAX_SIZE" envDefault:"10"`

	// Redis (optional — enables cross-worker listing dedup when set)
	RedisURL string `env:"REDIS_URL"`

	// Fleet sizing
	NumWorkers int `env:"NUM_WORKERS" envDefault:"15"`

	// Worker identity, set by the supervisor before exec'ing each child.
	WorkerID string `env:"WORKER_ID"`
	Display  string `env:"DISPLAY"`

	// Timing knobs
	HeartbeatInterval         time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"15s"`
	StuckTaskTimeout          time.Duration `env:"STUCK_TASK_TIMEOUT" envDefault:"5m"`
	MaxRetryAttempts          int           `env:"MAX_RETRY_ATTEMPTS" envDefault:"3"`
	NoTasksWait               time.Duration `env:"NO_TASKS_WAIT" envDefault:"10s"`
	NoProxiesWait             time.Duration `env:"NO_PROXIES_WAIT" envDefault:"30s"`
	PageRequestTimeout        time.Duration `env:"PAGE_REQUEST_TIMEOUT" envDefault:"5m"`
	CatalogProxyRotationLimit int           `env:"CATALOG_PROXY_ROTATION_LIMIT" envDefault:"5"`
	DetailPageTimeout         time.Duration `env:"DETAIL_PAGE_TIMEOUT" envDefault:"30s"`

	// Validation
	GeminiAPIKey string `env:"GEMINI_API_KEY"`

	// Debugging
	DebugScreenshots bool `env:"DEBUG_SCREENSHOTS" envDefault:"false"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	// Migrations (schema DDL content itself is out of scope)
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Ops alerting (optional)
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// DSN returns the libpq-style connection string for the configured database.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// DisplayForWorker returns the X display the supervisor should assign to
// the worker with the given 1-based index: worker 1 -> :99, worker 2 -> :100.
func DisplayForWorker(index int) string {
	return fmt.Sprintf(":%d", 99+index-1)
}

// WorkerIDFor returns the WORKER_ID the supervisor should assign to the
// worker with the given 1-based index.
func WorkerIDFor(index int) string {
	return fmt.Sprintf("worker_%d", index)
}
