package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Features   FeaturesConfig   `mapstructure:"features"`
	Engine     EngineConfig     `mapstructure:"engine"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token         string `mapstructure:"token"`
	UpdateTimeout int    `mapstructure:"update_timeout"`
}

type StorageConfig struct {
	DatabasePath string      `mapstructure:"database_path"`
	Redis        RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FeaturesConfig selects the backend holding per-chat feature toggles.
type FeaturesConfig struct {
	Backend string `mapstructure:"backend"` // "memory" or "redis"
}

// EngineConfig covers the presentation-layer knobs of the response flow.
// The trigger formula itself is fixed and lives in the engine.
type EngineConfig struct {
	ThinkingDelayMin time.Duration `mapstructure:"thinking_delay_min"`
	ThinkingDelayMax time.Duration `mapstructure:"thinking_delay_max"`
}

type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	RepliesPerMinute int  `mapstructure:"replies_per_minute"`
	Burst            int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("bot.update_timeout", 60)
	viper.SetDefault("storage.database_path", "data/markov.db")
	viper.SetDefault("features.backend", "memory")
	viper.SetDefault("engine.thinking_delay_min", 2*time.Second)
	viper.SetDefault("engine.thinking_delay_max", 8*time.Second)
	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.replies_per_minute", 5)
	viper.SetDefault("rate_limit.burst", 2)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("monitoring.metrics.port", 9090)
	viper.SetDefault("monitoring.metrics.path", "/metrics")
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en"})

	// Enable environment variable substitution
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("storage.database_path", "DATABASE_PATH")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := viper.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Storage.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if cfg.Features.Backend != "memory" && cfg.Features.Backend != "redis" {
		return fmt.Errorf("unsupported features backend: %s", cfg.Features.Backend)
	}
	if cfg.Engine.ThinkingDelayMax < cfg.Engine.ThinkingDelayMin {
		return fmt.Errorf("thinking_delay_max must not be below thinking_delay_min")
	}
	return nil
}
