package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Kommo     KommoConfig     `yaml:"kommo" mapstructure:"kommo"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Mover     MoverConfig     `yaml:"mover" mapstructure:"mover"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// KommoConfig holds CRM API settings.
type KommoConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	AccessToken string  `yaml:"access_token" mapstructure:"access_token"`
	PageLimit   int     `yaml:"page_limit" mapstructure:"page_limit"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// ScoringConfig configures run pacing and candidate selection.
type ScoringConfig struct {
	// ScoreDelay paces consecutive model calls. Sized so a long run
	// stays under the provider's per-minute budget.
	ScoreDelay time.Duration `yaml:"score_delay" mapstructure:"score_delay"`
	// FetchDelay paces consecutive communication fetches.
	FetchDelay time.Duration `yaml:"fetch_delay" mapstructure:"fetch_delay"`
	MaxLeads   int           `yaml:"max_leads" mapstructure:"max_leads"`
	// OnlyUnscored skips leads that already have a stored score.
	OnlyUnscored bool `yaml:"only_unscored" mapstructure:"only_unscored"`
}

// MoverConfig configures the pipeline mover.
type MoverConfig struct {
	Delay time.Duration `yaml:"delay" mapstructure:"delay"`
}

// StoreConfig configures score persistence.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the dashboard API server.
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
	v.SetEnvPrefix("LEADSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Secrets default empty so their env bindings register.
	v.SetDefault("kommo.base_url", "")
	v.SetDefault("kommo.access_token", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("kommo.page_limit", 250)
	v.SetDefault("kommo.rate_limit", 2.0)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 150)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("scoring.score_delay", 21*time.Second)
	v.SetDefault("scoring.fetch_delay", 200*time.Millisecond)
	v.SetDefault("scoring.max_leads", 0)
	v.SetDefault("scoring.only_unscored", true)
	v.SetDefault("mover.delay", 500*time.Millisecond)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "leadscore.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
