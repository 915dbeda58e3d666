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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Reference ReferenceConfig `yaml:"reference" mapstructure:"reference"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the fact store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RunConfig holds the run-scoped transform settings. These are passed down
// as part of each run so concurrent runs with different settings cannot
// interfere through shared state.
type RunConfig struct {
	ReportingTimezone string `yaml:"reporting_timezone" mapstructure:"reporting_timezone"`
	WeekStart         string `yaml:"week_start" mapstructure:"week_start"`
	Granularity       string `yaml:"granularity" mapstructure:"granularity"`
	IncludeShipping   bool   `yaml:"include_shipping" mapstructure:"include_shipping"`
	IncludeTaxes      bool   `yaml:"include_taxes" mapstructure:"include_taxes"`
	RawDir            string `yaml:"raw_dir" mapstructure:"raw_dir"`
	SnapshotWindow    int    `yaml:"snapshot_window_days" mapstructure:"snapshot_window_days"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// Location resolves the configured reporting timezone.
func (r RunConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(r.ReportingTimezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", r.ReportingTimezone)
	}
	return loc, nil
}

// WeekStartDay parses the configured week start weekday.
func (r RunConfig) WeekStartDay() (time.Weekday, error) {
	switch strings.ToLower(r.WeekStart) {
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	case "sunday":
		return time.Sunday, nil
	default:
		return 0, eris.Errorf("config: unknown week start %q", r.WeekStart)
	}
}

// ReferenceConfig locates the mapping tables. Dir points at a directory of
// CSV files; Workbook, when set, points at an XLSX workbook with one sheet
// per table and takes precedence over Dir.
type ReferenceConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Workbook string `yaml:"workbook" mapstructure:"workbook"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port      int     `yaml:"port" mapstructure:"port"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
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
	v.SetEnvPrefix("SALES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sales.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("run.reporting_timezone", "America/New_York")
	v.SetDefault("run.week_start", "monday")
	v.SetDefault("run.granularity", "day")
	v.SetDefault("run.include_shipping", true)
	v.SetDefault("run.include_taxes", false)
	v.SetDefault("run.raw_dir", "data/raw")
	v.SetDefault("run.snapshot_window_days", 35)
	v.SetDefault("run.concurrency", 4)
	v.SetDefault("reference.dir", "data/reference")

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
