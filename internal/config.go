package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all synthshot settings
type Config struct {
	Kibana      KibanaConfig      `mapstructure:"kibana"`
	Lookback    time.Duration     `mapstructure:"lookback"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Output      OutputConfig      `mapstructure:"output"`
	History     HistoryConfig     `mapstructure:"history"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Log         LogConfig         `mapstructure:"log"`
	Serve       ServeConfig       `mapstructure:"serve"`
}

// KibanaConfig describes how to reach the monitoring API
type KibanaConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps"` // 0 disables the limiter
	Burst        int           `mapstructure:"burst"`
}

// ConcurrencyConfig bounds the fan-out stages
type ConcurrencyConfig struct {
	References int `mapstructure:"references"`
	Composites int `mapstructure:"composites"`
	Tiles      int `mapstructure:"tiles"`
}

// OutputConfig controls image encoding
type OutputConfig struct {
	Format  string `mapstructure:"format"` // jpeg | png
	Quality int    `mapstructure:"quality"`
}

// HistoryConfig controls the reconstruction history database
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus textfile output
type MetricsConfig struct {
	File string `mapstructure:"file"`
}

// LogConfig controls logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

// ServeConfig controls the local HTTP server
type ServeConfig struct {
	Addr string `mapstructure:"addr"`
}

// EnvPrefix is the prefix for environment overrides, e.g. SYNTHSHOT_KIBANA_URL
const EnvPrefix = "SYNTHSHOT"

// DefaultConfigDir returns ~/.synthshot
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".synthshot"
	}
	return filepath.Join(home, ".synthshot")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kibana.url", "http://localhost:5601")
	v.SetDefault("kibana.api_key", "")
	v.SetDefault("kibana.timeout", 30*time.Second)
	v.SetDefault("kibana.rate_limit_rps", 0)
	v.SetDefault("kibana.burst", 1)
	v.SetDefault("lookback", DefaultLookback)
	v.SetDefault("concurrency.references", DefaultReferenceConcurrency)
	v.SetDefault("concurrency.composites", DefaultCompositeConcurrency)
	v.SetDefault("concurrency.tiles", DefaultTileConcurrency)
	v.SetDefault("output.format", FormatJPEG)
	v.SetDefault("output.quality", DefaultJPEGQuality)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", filepath.Join(DefaultConfigDir(), "history.db"))
	v.SetDefault("metrics.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("serve.addr", "127.0.0.1:8787")
}

// LoadConfig reads configuration from file, environment and bound flags.
// An explicit configPath must exist; otherwise ~/.synthshot/config.yaml is optional.
// flagBindings maps config keys to command-line flags.
func LoadConfig(configPath string, flagBindings map[string]*pflag.Flag) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("kibana.api_key", EnvPrefix+"_KIBANA_API_KEY", EnvPrefix+"_API_KEY"); err != nil {
		return nil, &ConfigError{Key: "kibana.api_key", Err: err}
	}

	for key, flag := range flagBindings {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, &ConfigError{Key: key, Err: err}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		LogDebug("Loaded config from %s", used)
	}
	return &cfg, nil
}

// Validate checks the settings needed to talk to the monitoring API
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Kibana.URL) == "" {
		return &ConfigError{Key: "kibana.url", Err: errors.New("is required")}
	}
	u, err := url.Parse(c.Kibana.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ConfigError{Key: "kibana.url", Err: fmt.Errorf("invalid url %q", c.Kibana.URL)}
	}
	if strings.TrimSpace(c.Kibana.APIKey) == "" {
		return &ConfigError{Key: "kibana.api_key", Err: fmt.Errorf("is required (set %s_KIBANA_API_KEY or --api-key)", EnvPrefix)}
	}
	switch c.Output.Format {
	case FormatJPEG, FormatPNG:
	default:
		return &ConfigError{Key: "output.format", Err: fmt.Errorf("unsupported format %q (supported: jpeg, png)", c.Output.Format)}
	}
	if c.Kibana.RateLimitRPS < 0 {
		return &ConfigError{Key: "kibana.rate_limit_rps", Err: errors.New("must not be negative")}
	}
	return nil
}

// ReconstructorOptions derives pipeline options from the config
func (c *Config) ReconstructorOptions() ReconstructorOptions {
	return ReconstructorOptions{
		Lookback:             c.Lookback,
		ReferenceConcurrency: c.Concurrency.References,
		CompositeConcurrency: c.Concurrency.Composites,
		Compositor: NewCompositor(CompositorOptions{
			Format:      c.Output.Format,
			Quality:     c.Output.Quality,
			Concurrency: c.Concurrency.Tiles,
		}),
	}
}
