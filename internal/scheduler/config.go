package scheduler

import (
	"time"

	"github.com/smallbiznis/procura/internal/config"
)

// Config controls the sweep interval and per-run timeout.
type Config struct {
	RunInterval  time.Duration
	SweepTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:  time.Hour,
		SweepTimeout: 5 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{RunInterval: cfg.SweepInterval}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = defaults.SweepTimeout
	}
	return c
}
