package main

import (
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	merrors "github.com/23skdu/mallinfo/internal/errors"
	"github.com/23skdu/mallinfo/internal/mallinfo"
)

// EnvPrefix is the prefix of every environment variable read by the daemon.
const EnvPrefix = "MALLINFO"

// Config validation errors
var (
	ErrInvalidNArenas      = errors.New("narenas must be positive")
	ErrInvalidManualArenas = errors.New("manual_arenas cannot be negative")
	ErrInvalidBinShards    = errors.New("bin_shards must be between 1 and 64")
	ErrInvalidShardMode    = errors.New("bin_shard_mode must be 'representative' or 'sum'")
	ErrInvalidMetricsAddr  = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogFormat    = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel     = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidWorkers      = errors.New("workload_workers must be positive when the workload is enabled")
	ErrInvalidDumpInterval = errors.New("dump_interval must be positive when dump_path is set")
)

// Config is the daemon configuration, read from MALLINFO_* variables.
type Config struct {
	NArenas      int    `envconfig:"NARENAS" default:"4"`
	ManualArenas int    `envconfig:"MANUAL_ARENAS" default:"0"`
	BinShards    int    `envconfig:"BIN_SHARDS" default:"1"`
	BinShardMode string `envconfig:"BIN_SHARD_MODE" default:"representative"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:"0.0.0.0:9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Workload        bool `envconfig:"WORKLOAD" default:"false"`
	WorkloadWorkers int  `envconfig:"WORKLOAD_WORKERS" default:"4"`

	DumpPath     string        `envconfig:"DUMP_PATH" default:""`
	DumpInterval time.Duration `envconfig:"DUMP_INTERVAL" default:"30s"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		NArenas:         4,
		ManualArenas:    0,
		BinShards:       1,
		BinShardMode:    "representative",
		MetricsAddr:     "0.0.0.0:9090",
		LogFormat:       "json",
		LogLevel:        "info",
		Workload:        false,
		WorkloadWorkers: 4,
		DumpPath:        "",
		DumpInterval:    30 * time.Second,
	}
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.NArenas <= 0 {
		return ErrInvalidNArenas
	}
	if cfg.ManualArenas < 0 {
		return ErrInvalidManualArenas
	}
	if cfg.BinShards < 1 || cfg.BinShards > 64 {
		return ErrInvalidBinShards
	}
	if _, err := mallinfo.ParseShardMode(cfg.BinShardMode); err != nil {
		return ErrInvalidShardMode
	}
	if cfg.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	if cfg.Workload && cfg.WorkloadWorkers <= 0 {
		return ErrInvalidWorkers
	}
	if cfg.DumpPath != "" && cfg.DumpInterval <= 0 {
		return ErrInvalidDumpInterval
	}
	return nil
}

// LoadConfig reads envFile (if it exists) into the environment, then
// processes MALLINFO_* variables. Variables already set win over the file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, merrors.WrapConfigurationError(err, "LoadConfig", "read env file").
				WithContext("path", envFile)
		}
	}

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, merrors.WrapConfigurationError(err, "LoadConfig", "process environment")
	}
	if err := ValidateConfig(&cfg); err != nil {
		return Config{}, merrors.WrapValidationError(err, "LoadConfig", "invalid configuration")
	}
	return cfg, nil
}
