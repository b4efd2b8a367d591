package scheduler

import (
	"errors"
	"time"

	"github.com/smallbiznis/tontine/internal/config"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const (
	JobStaleAttempts    = "stale_attempts"
	JobEnforcementSweep = "enforcement_sweep"
	JobLateObligations  = "late_obligations"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// StaleAttemptAfter overrides the business rule when set.
	StaleAttemptAfter time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   100,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.SchedulerInterval,
		EnabledJobs: cfg.SchedulerJobs,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
