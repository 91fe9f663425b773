package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ExtractConfig configures batch extraction behavior.
type ExtractConfig struct {
	Workers     int     `yaml:"workers" mapstructure:"workers"`
	ReadRate    float64 `yaml:"read_rate" mapstructure:"read_rate"`
	ProfilePath string  `yaml:"profile_path" mapstructure:"profile_path"`
}

// ResilienceConfig overrides circuit breaker presets per dependency.
type ResilienceConfig struct {
	RecordStore *BreakerConfig `yaml:"record_store" mapstructure:"record_store"`
	DocumentIO  *BreakerConfig `yaml:"document_io" mapstructure:"document_io"`
	External    *BreakerConfig `yaml:"external" mapstructure:"external"`
}

// BreakerConfig holds the tunable knobs of one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoverySecs     int `yaml:"recovery_secs" mapstructure:"recovery_secs"`
	SuccessThreshold int `yaml:"success_threshold" mapstructure:"success_threshold"`
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries       int `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs     int `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	MaxRetryDelayMs  int `yaml:"max_retry_delay_ms" mapstructure:"max_retry_delay_ms"`
}

// ServerConfig configures the metrics server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the configuration is usable for the given command
// mode. It collects every problem rather than stopping at the first so an
// operator can fix a config file in one pass.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	switch mode {
	case "extract":
		if c.Extract.Workers < 1 || c.Extract.Workers > 64 {
			problems = append(problems, "extract.workers must be between 1 and 64")
		}
		if c.Extract.ReadRate <= 0 {
			problems = append(problems, "extract.read_rate must be > 0")
		}
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be between 1 and 65535")
		}
	case "dedupe", "migrate", "quarantine":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCHOOLSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "schoolscope.db")
	v.SetDefault("extract.workers", 8)
	v.SetDefault("extract.read_rate", 50.0)
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
