package scheduler

import (
	"time"

	"github.com/smallbiznis/yardcraft/internal/config"
)

// Config controls scheduler intervals.
type Config struct {
	RunInterval time.Duration
	// RecoveryThreshold is how long a generation may stay unfinished before
	// the sweep treats it as abandoned. It must exceed the request timeout.
	RecoveryThreshold time.Duration
	JobTimeout        time.Duration
	LockTTL           time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		RecoveryThreshold: 10 * time.Minute,
		JobTimeout:        30 * time.Second,
		LockTTL:           45 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

// ProvideConfig derives the sweep from the generation policy: a request is
// abandoned once it has outlived its own timeout by a full margin.
func ProvideConfig(policy *config.GenerationPolicyHolder) Config {
	current := policy.Get()
	cfg := DefaultConfig()
	if current.RecoveryInterval > 0 {
		cfg.RunInterval = current.RecoveryInterval
	}
	if threshold := 2 * current.RequestTimeout; threshold > cfg.RecoveryThreshold {
		cfg.RecoveryThreshold = threshold
	}
	return cfg
}
