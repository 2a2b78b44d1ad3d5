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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Scrape   ScrapeConfig   `yaml:"scrape" mapstructure:"scrape"`
	Detector DetectorConfig `yaml:"detector" mapstructure:"detector"`
	Enrich   EnrichConfig   `yaml:"enrich" mapstructure:"enrich"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the warehouse connection.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScrapeConfig locates the landing zone written by the scraping collaborator.
type ScrapeConfig struct {
	MessagesDir string `yaml:"messages_dir" mapstructure:"messages_dir"`
	ImagesDir   string `yaml:"images_dir" mapstructure:"images_dir"`
}

// DetectorConfig configures the object-detection collaborator and the
// class sets used for image categorization.
type DetectorConfig struct {
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit      float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	MinConfidence  float64  `yaml:"min_confidence" mapstructure:"min_confidence"`
	PersonClasses  []string `yaml:"person_classes" mapstructure:"person_classes"`
	ProductClasses []string `yaml:"product_classes" mapstructure:"product_classes"`
}

// EnrichConfig configures the enrichment stage.
type EnrichConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// PipelineConfig configures orchestrator retry behavior.
type PipelineConfig struct {
	Name             string `yaml:"name" mapstructure:"name"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffSecs   int    `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
}

// ScheduleConfig configures the scheduled pipeline cadence.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("WAREHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("scrape.messages_dir", "data/raw/telegram_messages")
	v.SetDefault("scrape.images_dir", "data/raw/images")
	v.SetDefault("detector.base_url", "http://localhost:8500")
	v.SetDefault("detector.timeout_secs", 30)
	v.SetDefault("detector.rate_limit", 10)
	v.SetDefault("detector.min_confidence", 0.25)
	v.SetDefault("detector.person_classes", []string{"person"})
	v.SetDefault("detector.product_classes", []string{"bottle", "cup"})
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("pipeline.name", "channel_warehouse")
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.initial_backoff_ms", 500)
	v.SetDefault("pipeline.max_backoff_secs", 30)
	v.SetDefault("schedule.cron", "0 0 * * *")
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
