package config

import (
	"time"

	"github.com/vietddude/transync/internal/infra/executor"
	redisclient "github.com/vietddude/transync/internal/infra/redis"
	"github.com/vietddude/transync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Redis       redisclient.Config `yaml:"redis"`
	Logging     LoggingConfig      `yaml:"logging"`
	Database    postgres.Config    `yaml:"database"`
	Queue       QueueConfig        `yaml:"queue"`
	Skip        SkipConfig         `yaml:"skip"`
	Session     SessionConfig      `yaml:"session"`
	Recovery    RecoveryConfig     `yaml:"recovery"`
	Version     VersionConfig      `yaml:"version"`
	Executor    executor.Config    `yaml:"executor"`
	Maintenance MaintenanceConfig  `yaml:"maintenance"`
	Shops       []ShopConfig       `yaml:"shops"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueueConfig controls the work queue.
type QueueConfig struct {
	Workers         int           `yaml:"workers"`
	BatchSize       int           `yaml:"batch_size"`
	ShopConcurrency int           `yaml:"shop_concurrency"`
	InlineThreshold int           `yaml:"inline_threshold"`
	InlineTimeout   time.Duration `yaml:"inline_timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
	InitialBackoff  time.Duration `yaml:"initial_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ShopRateLimit   float64       `yaml:"shop_rate_limit"` // executor calls/sec per shop, 0 = unlimited
}

// SkipConfig controls skip decisions.
type SkipConfig struct {
	QualityThreshold float64       `yaml:"quality_threshold"`
	MaxRetries       int           `yaml:"max_retries"`
	Concurrency      int           `yaml:"concurrency"`
	ItemTimeout      time.Duration `yaml:"item_timeout"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// SessionConfig controls the session state machine.
type SessionConfig struct {
	StaleAfter   time.Duration `yaml:"stale_after"`
	MaxResumeAge time.Duration `yaml:"max_resume_age"`
	MaxErrorRate float64       `yaml:"max_error_rate"`
	MinSamples   int           `yaml:"min_samples"`
}

// RecoveryConfig controls automatic recovery.
type RecoveryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	Window         time.Duration `yaml:"window"`
	ErrorRetention time.Duration `yaml:"error_retention"`
}

// VersionConfig controls content fingerprinting.
type VersionConfig struct {
	// RequiredFields lists, per resource type, the fields that must be present
	// before a new fingerprint is accepted.
	RequiredFields map[string][]string `yaml:"required_fields"`
}

// ShopConfig lists the target languages of a shop. With AutoTranslate set,
// detected content changes are evaluated and enqueued without a session.
type ShopConfig struct {
	ID            string   `yaml:"id"`
	Languages     []string `yaml:"languages"`
	AutoTranslate bool     `yaml:"auto_translate"`
}

// MaintenanceConfig controls the background maintenance loop.
type MaintenanceConfig struct {
	Interval time.Duration `yaml:"interval"`
}
