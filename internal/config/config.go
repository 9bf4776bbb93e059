// Package config loads and validates the engine's runtime configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/anthropics/decision-engine/internal/domain"
)

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath     string `json:"db_path"`
	ListenAddr string `json:"listen_addr"`

	MaxTaskConcurrency int `json:"max_task_concurrency"`
	TaskTimeoutSec     int `json:"task_timeout_sec"`
	MaxRetries         int `json:"max_retries"`
	RetryBaseMs        int `json:"retry_base_ms"`
	RetryMaxMs         int `json:"retry_max_ms"`

	TotalScenarios        int     `json:"total_scenarios"`
	BatchSize             int     `json:"batch_size"`
	MaxBatchConcurrency   int     `json:"max_batch_concurrency"`
	BatchFailureThreshold float64 `json:"batch_failure_threshold"`
	ProgressEvery         int     `json:"progress_every"`

	SessionTTLDays   int `json:"session_ttl_days"`
	RunTimeoutSec    int `json:"run_timeout_sec"`
	PurgeIntervalMin int `json:"purge_interval_min"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9810"
	}
	if c.MaxTaskConcurrency == 0 {
		c.MaxTaskConcurrency = 8
	}
	if c.TaskTimeoutSec == 0 {
		c.TaskTimeoutSec = 300
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseMs == 0 {
		c.RetryBaseMs = 200
	}
	if c.RetryMaxMs == 0 {
		c.RetryMaxMs = 5000
	}
	if c.TotalScenarios == 0 {
		c.TotalScenarios = 5000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.MaxBatchConcurrency == 0 {
		c.MaxBatchConcurrency = 16
	}
	if c.BatchFailureThreshold == 0 {
		c.BatchFailureThreshold = 0.05
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 500
	}
	if c.SessionTTLDays == 0 {
		c.SessionTTLDays = 7
	}
	if c.RunTimeoutSec == 0 {
		c.RunTimeoutSec = 1800
	}
	if c.PurgeIntervalMin == 0 {
		c.PurgeIntervalMin = 60
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.BatchSize > c.TotalScenarios {
		problems = append(problems, "batch_size must not exceed total_scenarios")
	}
	if c.BatchFailureThreshold < 0 || c.BatchFailureThreshold >= 1 {
		problems = append(problems, "batch_failure_threshold must be in [0, 1)")
	}
	if c.MaxTaskConcurrency < 1 {
		problems = append(problems, "max_task_concurrency must be positive")
	}
	if c.MaxBatchConcurrency < 1 {
		problems = append(problems, "max_batch_concurrency must be positive")
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}
