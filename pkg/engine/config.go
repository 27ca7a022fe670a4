package engine

import (
	"github.com/scribbly/engine/pkg/ads"
	"github.com/scribbly/engine/pkg/config"
	"github.com/scribbly/engine/pkg/logger"
)

// Config selects the storage backend and tunes the ad display policy.
// Every field has a working default, so a zero Config yields a fully
// in-memory engine.
type Config struct {
	// StoragePath persists engine state to a JSON file. Ignored when
	// RedisURL is set.
	StoragePath string `env:"ENGINE_STORAGE_PATH"`
	// RedisURL switches persistence to Redis, e.g. redis://localhost:6379/0.
	RedisURL string `env:"ENGINE_REDIS_URL"`
	// KeyPrefix namespaces engine keys in shared Redis deployments.
	KeyPrefix string `env:"ENGINE_KEY_PREFIX" envDefault:"engine:"`

	LogLevel  string `env:"ENGINE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"ENGINE_LOG_FORMAT" envDefault:"text"`

	AdBaseProbability      float64 `env:"ENGINE_AD_BASE_PROBABILITY" envDefault:"0.15"`
	AdImportantProbability float64 `env:"ENGINE_AD_IMPORTANT_PROBABILITY" envDefault:"0.25"`
	AdStarvationThreshold  int     `env:"ENGINE_AD_STARVATION_THRESHOLD" envDefault:"3"`
}

// LoadConfig reads the engine configuration from the environment, loading a
// .env file first if one exists.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) logFormat() logger.Format {
	if c.LogFormat == "json" {
		return logger.FormatJSON
	}
	return logger.FormatText
}

// adPolicy maps the probability overrides onto the default policy, keeping
// the built-in minimum intervals.
func (c Config) adPolicy() ads.Policy {
	policy := ads.DefaultPolicy()
	if c.AdBaseProbability > 0 {
		policy.BaseProbability = c.AdBaseProbability
	}
	if c.AdImportantProbability > 0 {
		policy.ImportantProbability = c.AdImportantProbability
	}
	if c.AdStarvationThreshold > 0 {
		policy.StarvationThreshold = c.AdStarvationThreshold
	}
	return policy
}
