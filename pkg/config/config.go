// Package config loads CLI and service settings from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/hed1ad/procurewatch/pkg/detectors"
	"github.com/hed1ad/procurewatch/pkg/patterns"
	"github.com/hed1ad/procurewatch/pkg/pipeline"
	"github.com/hed1ad/procurewatch/pkg/risk"
	"github.com/hed1ad/procurewatch/pkg/riskerr"
	"github.com/hed1ad/procurewatch/pkg/store"
	"github.com/hed1ad/procurewatch/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable, e.g. PROCUREWATCH_MODEL_NEIGHBORS.
const EnvPrefix = "PROCUREWATCH"

// Config holds all settings.
type Config struct {
	Model   ModelConfig      `yaml:"model" envconfig:"MODEL"`
	Server  ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Store   StoreConfig      `yaml:"store" envconfig:"STORE"`
	Tracing telemetry.Config `yaml:"tracing" envconfig:"TRACING"`
}

// ModelConfig holds the scoring engine settings.
type ModelConfig struct {
	Contamination float64  `yaml:"contamination" envconfig:"CONTAMINATION" default:"0.05"`
	Seed          int64    `yaml:"seed" envconfig:"SEED" default:"42"`
	Workers       int      `yaml:"workers" envconfig:"WORKERS"`
	Trees         int      `yaml:"trees" envconfig:"TREES" default:"100"`
	SampleSize    int      `yaml:"sample_size" envconfig:"SAMPLE_SIZE" default:"256"`
	Neighbors     int      `yaml:"neighbors" envconfig:"NEIGHBORS" default:"20"`
	IsoWeight     float64  `yaml:"iso_weight" envconfig:"ISO_WEIGHT" default:"0.5"`
	LOFWeight     float64  `yaml:"lof_weight" envconfig:"LOF_WEIGHT" default:"0.5"`
	MediumBand    float64  `yaml:"medium_band" envconfig:"MEDIUM_BAND" default:"50"`
	HighBand      float64  `yaml:"high_band" envconfig:"HIGH_BAND" default:"75"`
	CriticalBand  float64  `yaml:"critical_band" envconfig:"CRITICAL_BAND" default:"90"`
	Features      []string `yaml:"features" envconfig:"FEATURES"`

	// PatternFlags enables rule flags; Rules replaces the default rule set.
	PatternFlags bool            `yaml:"pattern_flags" envconfig:"PATTERN_FLAGS" default:"true"`
	Rules        []patterns.Rule `yaml:"rules" ignored:"true"`
}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES" default:"33554432"`

	// RateLimit caps /v1 requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	RateBurst int     `yaml:"rate_burst" envconfig:"RATE_BURST" default:"20"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
}

// StoreConfig selects where model artifacts live.
type StoreConfig struct {
	// Kind is "file" or "sql".
	Kind string          `yaml:"kind" envconfig:"KIND" default:"file"`
	Dir  string          `yaml:"dir" envconfig:"DIR" default:"models"`
	SQL  store.SQLConfig `yaml:"sql" envconfig:"SQL"`
}

// Load reads the environment and then, when path is not empty, the YAML file
// at path. Keys present in the file override the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to load config from env: %v", riskerr.ErrConfig, err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse config file: %v", riskerr.ErrConfig, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section; model settings are checked by building the
// engine configuration.
func (c *Config) Validate() error {
	if _, err := c.Logging.level(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logging format must be json or text, got %q", riskerr.ErrConfig, c.Logging.Format)
	}

	switch c.Store.Kind {
	case "file":
		if c.Store.Dir == "" {
			return fmt.Errorf("%w: file store needs a directory", riskerr.ErrConfig)
		}
	case "sql":
		switch c.Store.SQL.Driver {
		case store.DriverSQLite, store.DriverPostgres:
		default:
			return fmt.Errorf("%w: unsupported store driver %q", riskerr.ErrConfig, c.Store.SQL.Driver)
		}
	default:
		return fmt.Errorf("%w: store kind must be file or sql, got %q", riskerr.ErrConfig, c.Store.Kind)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be positive", riskerr.ErrConfig)
	}
	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst < 1) {
		return fmt.Errorf("%w: rate limit must be non-negative with a positive burst", riskerr.ErrConfig)
	}

	if err := c.Tracing.Validate(); err != nil {
		return err
	}

	_, err := pipeline.New(c.Model.Pipeline())
	return err
}

// Pipeline converts the model settings to an engine configuration.
func (m ModelConfig) Pipeline() pipeline.Config {
	workers := m.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	cfg := pipeline.Config{
		Features: m.Features,
		Detector: detectors.Config{
			Contamination: m.Contamination,
			Seed:          m.Seed,
			Workers:       workers,
		},
		Trees:      m.Trees,
		SampleSize: m.SampleSize,
		Neighbors:  m.Neighbors,
		Risk: risk.Config{
			IsoWeight: m.IsoWeight,
			LOFWeight: m.LOFWeight,
			Bands: risk.Bands{
				Medium:   m.MediumBand,
				High:     m.HighBand,
				Critical: m.CriticalBand,
			},
		},
	}
	if m.PatternFlags {
		cfg.Rules = m.Rules
		if len(cfg.Rules) == 0 {
			cfg.Rules = patterns.DefaultRules()
		}
	}
	return cfg
}

func (l LoggingConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return lvl, fmt.Errorf("%w: logging level %q: %v", riskerr.ErrConfig, l.Level, err)
	}
	return lvl, nil
}

// Logger builds the configured logger writing to w.
func (l LoggingConfig) Logger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
