package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/podcast-intel/internal/cost"
	"github.com/sells-group/podcast-intel/internal/model"
	"github.com/sells-group/podcast-intel/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Budget    BudgetConfig    `yaml:"budget" mapstructure:"budget"`
	Feed      FeedConfig      `yaml:"feed" mapstructure:"feed"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Pricing   cost.Pricing    `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	Path        string           `yaml:"path" mapstructure:"path"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerMinute int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// BudgetConfig holds spend limits in dollars.
type BudgetConfig struct {
	DailyLimitUSD  float64 `yaml:"daily_limit_usd" mapstructure:"daily_limit_usd"`
	WeeklyLimitUSD float64 `yaml:"weekly_limit_usd" mapstructure:"weekly_limit_usd"`
	AlertThreshold float64 `yaml:"alert_threshold" mapstructure:"alert_threshold"`
}

// FeedConfig configures RSS discovery.
type FeedConfig struct {
	PodcastsFile          string `yaml:"podcasts_file" mapstructure:"podcasts_file"`
	LookbackDays          int    `yaml:"lookback_days" mapstructure:"lookback_days"`
	MaxEpisodesPerPodcast int    `yaml:"max_episodes_per_podcast" mapstructure:"max_episodes_per_podcast"`
	TimeoutSecs           int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency           int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// RetryConfig holds per-stage retry policies.
type RetryConfig struct {
	Extract RetryPolicy `yaml:"extract" mapstructure:"extract"`
	Commit  RetryPolicy `yaml:"commit" mapstructure:"commit"`
}

// RetryPolicy configures one retry loop.
type RetryPolicy struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
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
	v.SetEnvPrefix("PODINTEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "podcast-intel.db")
	v.SetDefault("store.pool.max_conns", 4)
	v.SetDefault("store.pool.min_conns", 1)
	// Registered with a zero default so viper knows the key exists;
	// Unmarshal only sees env overrides for keys viper already knows.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 3500)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.requests_per_minute", 30)
	v.SetDefault("budget.daily_limit_usd", 5.00)
	v.SetDefault("budget.weekly_limit_usd", 25.00)
	v.SetDefault("budget.alert_threshold", 0.8)
	v.SetDefault("feed.podcasts_file", "podcasts.yaml")
	v.SetDefault("feed.lookback_days", 7)
	v.SetDefault("feed.max_episodes_per_podcast", 5)
	v.SetDefault("feed.timeout_secs", 30)
	v.SetDefault("feed.concurrency", 4)
	v.SetDefault("retry.extract.max_attempts", 3)
	v.SetDefault("retry.extract.initial_backoff_ms", 500)
	v.SetDefault("retry.extract.max_backoff_ms", 30000)
	v.SetDefault("retry.extract.multiplier", 2.0)
	v.SetDefault("retry.commit.max_attempts", 3)
	v.SetDefault("retry.commit.initial_backoff_ms", 200)
	v.SetDefault("retry.commit.max_backoff_ms", 5000)
	v.SetDefault("retry.commit.multiplier", 2.0)
	v.SetDefault("pricing.input_per_mtok", 3.00)
	v.SetDefault("pricing.output_per_mtok", 15.00)
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

// LoadPodcasts reads the podcast registry from a YAML file.
func LoadPodcasts(path string) ([]model.Podcast, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read podcasts file %s", path)
	}

	var reg struct {
		Podcasts []model.Podcast `yaml:"podcasts"`
	}
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, eris.Wrapf(err, "config: parse podcasts file %s", path)
	}

	seen := make(map[string]bool, len(reg.Podcasts))
	for _, p := range reg.Podcasts {
		if p.ID == "" {
			return nil, eris.Errorf("config: podcast %q has no id", p.Name)
		}
		if p.RSSURL == "" {
			return nil, eris.Errorf("config: podcast %q has no rss_url", p.ID)
		}
		if seen[p.ID] {
			return nil, eris.Errorf("config: duplicate podcast id %q", p.ID)
		}
		seen[p.ID] = true
	}

	return reg.Podcasts, nil
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
