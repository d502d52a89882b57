// Package config provides configuration loading for the suggestion engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/spice-suggest/internal/common"
)

// Config is the full engine configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Router    RouterConfig    `mapstructure:"router"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Learner   LearnerConfig   `mapstructure:"learner"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Server    ServerConfig    `mapstructure:"server"`
	Locks     LocksConfig     `mapstructure:"locks"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RouterConfig tunes the suggestion router.
type RouterConfig struct {
	LowConfidence       string        `mapstructure:"low_confidence"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	TopK                int           `mapstructure:"top_k"`
	DefaultCanaryPct    int           `mapstructure:"default_canary_pct"`
	ScoringTimeout      time.Duration `mapstructure:"scoring_timeout"`
	BatchWorkers        int           `mapstructure:"batch_workers"`
	ShadowScoring       bool          `mapstructure:"shadow_scoring"`
}

// RegistryConfig tunes the registry snapshot refresh.
type RegistryConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// LearnerConfig tunes partial-fit and hint promotion.
type LearnerConfig struct {
	Promotion       PromotionConfig `mapstructure:"promotion"`
	LearningRate    float64         `mapstructure:"learning_rate"`
	Dimensions      int             `mapstructure:"dimensions"`
	BootstrapEpochs int             `mapstructure:"bootstrap_epochs"`
}

// PromotionConfig holds the hint promotion thresholds.
type PromotionConfig struct {
	MinSupport int           `mapstructure:"min_support"`
	MinShare   float64       `mapstructure:"min_share"`
	Interval   time.Duration `mapstructure:"interval"`
}

// ArtifactsConfig locates the model artifact store.
type ArtifactsConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr string    `mapstructure:"addr"`
	TLS  TLSConfig `mapstructure:"tls"`
}

// TLSConfig serves the API over HTTPS with a self-signed certificate kept in
// CertDir.
type TLSConfig struct {
	CertDir string   `mapstructure:"cert_dir"`
	Hosts   []string `mapstructure:"hosts"`
	Enabled bool     `mapstructure:"enabled"`
}

// LocksConfig selects the per-merchant lock backend.
type LocksConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig configures the redis client used by the redis lock backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig configures the outbox relay.
type KafkaConfig struct {
	Topic         KafkaTopicConfig `mapstructure:"topic"`
	Brokers       []string         `mapstructure:"brokers"`
	RelayInterval time.Duration    `mapstructure:"relay_interval"`
	BatchSize     int              `mapstructure:"batch_size"`
	MaxRetries    int              `mapstructure:"max_retries"`
	Enabled       bool             `mapstructure:"enabled"`
}

// KafkaTopicConfig names the fact topics.
type KafkaTopicConfig struct {
	Events   string `mapstructure:"events"`
	Feedback string `mapstructure:"feedback"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.path", "$HOME/.local/share/spice/suggest.db")

	v.SetDefault("router.confidence_threshold", 0.50)
	v.SetDefault("router.top_k", 3)
	v.SetDefault("router.default_canary_pct", 0)
	v.SetDefault("router.scoring_timeout", 250*time.Millisecond)
	v.SetDefault("router.low_confidence", "drop")
	v.SetDefault("router.shadow_scoring", false)
	v.SetDefault("router.batch_workers", 4)

	v.SetDefault("registry.refresh_interval", 30*time.Second)

	v.SetDefault("learner.learning_rate", 0.1)
	v.SetDefault("learner.dimensions", 4096)
	v.SetDefault("learner.bootstrap_epochs", 5)
	v.SetDefault("learner.promotion.min_support", 3)
	v.SetDefault("learner.promotion.min_share", 0.6)
	v.SetDefault("learner.promotion.interval", 24*time.Hour)

	v.SetDefault("artifacts.path", "$HOME/.local/share/spice/models")
	v.SetDefault("artifacts.in_memory", false)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_dir", "$HOME/.config/spice/certs")

	v.SetDefault("locks.backend", "local")
	v.SetDefault("locks.ttl", 5*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.events", "spice.suggestion_events")
	v.SetDefault("kafka.topic.feedback", "spice.feedback")
	v.SetDefault("kafka.relay_interval", 500*time.Millisecond)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.max_retries", 5)
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.Artifacts.Path = ExpandPath(cfg.Artifacts.Path)
	cfg.Server.TLS.CertDir = ExpandPath(cfg.Server.TLS.CertDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Router.ConfidenceThreshold < 0 || c.Router.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: router.confidence_threshold must be within [0,1]", common.ErrInvalidConfig)
	}
	if c.Router.DefaultCanaryPct < 0 || c.Router.DefaultCanaryPct > 100 {
		return fmt.Errorf("%w: router.default_canary_pct must be within [0,100]", common.ErrInvalidConfig)
	}
	if c.Router.TopK <= 0 {
		return fmt.Errorf("%w: router.top_k must be positive", common.ErrInvalidConfig)
	}
	switch c.Router.LowConfidence {
	case "drop", "flag":
	default:
		return fmt.Errorf("%w: router.low_confidence must be drop or flag", common.ErrInvalidConfig)
	}
	switch c.Locks.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("%w: locks.backend must be local or redis", common.ErrInvalidConfig)
	}
	if c.Learner.Dimensions <= 0 {
		return fmt.Errorf("%w: learner.dimensions must be positive", common.ErrInvalidConfig)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka.brokers is required when kafka is enabled", common.ErrMissingConfig)
	}
	return nil
}

// ExpandPath expands ~ and environment variables in a file path.
func ExpandPath(path string) string {
	if path == "" || path == ":memory:" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	}

	return os.ExpandEnv(path)
}
