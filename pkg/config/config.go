// Package config loads evaluator settings from a YAML file and XQ_
// environment variables.
//
// Keys use dotted paths; the environment variable of a key is its path in
// upper case with dots and dashes replaced by underscores, so
// query.output-size-limit is XQ_QUERY_OUTPUT_SIZE_LIMIT.
//
//	query:
//	  timeout: 30s
//	  output-size-limit: 100000
//	  optimize: true
//	  lock-timeout: 5s
//	profiler:
//	  enabled: false
//	  verbosity: 5
//	cache:
//	  size: 256
//	  idle: 4
//	log:
//	  level: info
//	  format: text
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/eXist-db/exist-sub013/pkg/evaluator"
	"github.com/eXist-db/exist-sub013/pkg/profiler"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "XQ"

// Config holds the settings of the query runner.
type Config struct {
	Query    QueryConfig    `mapstructure:"query"`
	Profiler ProfilerConfig `mapstructure:"profiler"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

type QueryConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	OutputSizeLimit int64         `mapstructure:"output-size-limit"`
	Optimize        bool          `mapstructure:"optimize"`
	LockTimeout     time.Duration `mapstructure:"lock-timeout"`
	MaxCallDepth    int           `mapstructure:"max-call-depth"`
}

type ProfilerConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	Verbosity int  `mapstructure:"verbosity"`
}

type CacheConfig struct {
	Size int `mapstructure:"size"`
	Idle int `mapstructure:"idle"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("query.timeout", time.Duration(0))
	v.SetDefault("query.output-size-limit", 0)
	v.SetDefault("query.optimize", true)
	v.SetDefault("query.lock-timeout", 5*time.Second)
	v.SetDefault("query.max-call-depth", 0)
	v.SetDefault("profiler.enabled", false)
	v.SetDefault("profiler.verbosity", 5)
	v.SetDefault("cache.size", 256)
	v.SetDefault("cache.idle", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads the configuration. An empty path reads only defaults and the
// environment; a missing file at a given path is an error.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Query.Timeout < 0 {
		errs = append(errs, errors.New("query.timeout must not be negative"))
	}
	if c.Query.OutputSizeLimit < 0 {
		errs = append(errs, errors.New("query.output-size-limit must not be negative"))
	}
	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (l LogConfig) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}

// Handler returns a slog handler writing to w in the configured format.
func (c *Config) Handler(w io.Writer) slog.Handler {
	lvl, _ := c.Log.level()
	opts := &slog.HandlerOptions{Level: lvl}
	if c.Log.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewProfiler returns an enabled profiler, or nil when profiling is off.
func (c *Config) NewProfiler(logger *slog.Logger) *profiler.Profiler {
	if !c.Profiler.Enabled {
		return nil
	}
	p := profiler.New(profiler.WithLogger(logger), profiler.WithVerbosity(c.Profiler.Verbosity))
	p.SetEnabled(true)
	return p
}

// EvalOptions converts the query settings to evaluator options.
func (c *Config) EvalOptions(logger *slog.Logger) []evaluator.EvalOption {
	opts := []evaluator.EvalOption{
		evaluator.WithTimeout(c.Query.Timeout),
		evaluator.WithMaxOutputSize(c.Query.OutputSizeLimit),
		evaluator.WithOptimizer(c.Query.Optimize),
		evaluator.WithLockTimeout(c.Query.LockTimeout),
		evaluator.WithLogger(logger),
	}
	if c.Query.MaxCallDepth > 0 {
		opts = append(opts, evaluator.WithMaxCallDepth(c.Query.MaxCallDepth))
	}
	if p := c.NewProfiler(logger); p != nil {
		opts = append(opts, evaluator.WithProfiler(p))
	}
	if lvl, _ := c.Log.level(); lvl <= slog.LevelDebug {
		opts = append(opts, evaluator.WithDebug(true))
	}
	return opts
}
