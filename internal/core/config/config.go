package config

import (
	"time"

	"github.com/vietddude/chaincore/internal/core/domain"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Logging    LoggingConfig      `yaml:"logging"`
	Controller ControllerConfig   `yaml:"controller"`
	Chains     []domain.ChainInfo `yaml:"chains"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ControllerConfig holds client-selection settings.
type ControllerConfig struct {
	// RaceTimeout bounds one readiness race across a chain's pool.
	RaceTimeout time.Duration `yaml:"race_timeout"`
	// CacheTTL is how long a raced winner stays pinned.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}
