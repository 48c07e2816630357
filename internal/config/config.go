package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Resolve   ResolveConfig   `yaml:"resolve" mapstructure:"resolve"`
	Conformal ConformalConfig `yaml:"conformal" mapstructure:"conformal"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// AnthropicConfig holds the LLM arbiter settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	Model          string  `yaml:"model" mapstructure:"model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs    int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMin int     `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	BudgetUSD      float64 `yaml:"budget_usd" mapstructure:"budget_usd"`
}

// ResolveConfig configures the resolution cascade.
type ResolveConfig struct {
	StringThreshold float64 `yaml:"string_threshold" mapstructure:"string_threshold"`
	ReviewThreshold float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	AmbiguityLow    float64 `yaml:"ambiguity_low" mapstructure:"ambiguity_low"`
	AmbiguityHigh   float64 `yaml:"ambiguity_high" mapstructure:"ambiguity_high"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	WeightsFile     string  `yaml:"weights_file" mapstructure:"weights_file"`
}

// ConformalConfig configures prediction-set construction.
type ConformalConfig struct {
	CoverageLevel float64 `yaml:"coverage_level" mapstructure:"coverage_level"`
}

// ReviewConfig configures the review priority queue.
type ReviewConfig struct {
	Limit int `yaml:"limit" mapstructure:"limit"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ATTRIB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "attribution.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 30)
	v.SetDefault("anthropic.requests_per_min", 60)
	v.SetDefault("anthropic.temperature", 0.0)
	v.SetDefault("anthropic.budget_usd", 0.0)
	v.SetDefault("resolve.string_threshold", 0.85)
	v.SetDefault("resolve.review_threshold", 0.5)
	v.SetDefault("resolve.ambiguity_low", 0.4)
	v.SetDefault("resolve.ambiguity_high", 0.7)
	v.SetDefault("resolve.concurrency", 8)
	v.SetDefault("conformal.coverage_level", 0.9)
	v.SetDefault("review.limit", 20)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
