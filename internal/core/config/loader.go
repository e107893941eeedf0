package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills zero values with the service defaults.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	q := &cfg.Queue
	if q.Workers <= 0 {
		q.Workers = 8
	}
	if q.BatchSize <= 0 {
		q.BatchSize = 20
	}
	if q.ShopConcurrency <= 0 {
		q.ShopConcurrency = 3
	}
	if q.InlineThreshold <= 0 {
		q.InlineThreshold = 10
	}
	if q.InlineTimeout == 0 {
		q.InlineTimeout = 30 * time.Second
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 3
	}
	if q.LockTTL == 0 {
		q.LockTTL = 2 * time.Minute
	}
	if q.InitialBackoff == 0 {
		q.InitialBackoff = 2 * time.Second
	}
	if q.MaxBackoff == 0 {
		q.MaxBackoff = time.Minute
	}

	s := &cfg.Skip
	if s.QualityThreshold == 0 {
		s.QualityThreshold = 0.7
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 3
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 5
	}
	if s.ItemTimeout == 0 {
		s.ItemTimeout = 10 * time.Second
	}
	if s.CacheTTL == 0 {
		s.CacheTTL = 5 * time.Minute
	}

	ss := &cfg.Session
	if ss.StaleAfter == 0 {
		ss.StaleAfter = 10 * time.Minute
	}
	if ss.MaxResumeAge == 0 {
		ss.MaxResumeAge = 72 * time.Hour
	}
	if ss.MaxErrorRate == 0 {
		ss.MaxErrorRate = 0.5
	}
	if ss.MinSamples <= 0 {
		ss.MinSamples = 20
	}

	r := &cfg.Recovery
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 3
	}
	if r.Window == 0 {
		r.Window = time.Hour
	}
	if r.ErrorRetention == 0 {
		r.ErrorRetention = 30 * 24 * time.Hour
	}

	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = 60 * time.Second
	}
	if cfg.Maintenance.Interval == 0 {
		cfg.Maintenance.Interval = time.Minute
	}
}
