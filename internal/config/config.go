package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tanq16/rangedl/internal/utils"
)

type Config struct {
	Workers           int        `mapstructure:"workers" yaml:"workers"`
	MaxBytesPerSecond int64      `mapstructure:"max_bytes_per_second" yaml:"max_bytes_per_second"`
	ChunkSize         int64      `mapstructure:"chunk_size" yaml:"chunk_size"`
	OutputDir         string     `mapstructure:"output_dir" yaml:"output_dir"`
	MaxFailedRounds   int        `mapstructure:"max_failed_rounds" yaml:"max_failed_rounds"`
	HTTP              HTTPConfig `mapstructure:"http" yaml:"http"`
	Log               LogConfig  `mapstructure:"log" yaml:"log"`
}

type HTTPConfig struct {
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout" yaml:"keep_alive_timeout"`
	UserAgent        string        `mapstructure:"user_agent" yaml:"user_agent"`
	Headers          []string      `mapstructure:"headers" yaml:"headers"`
}

type LogConfig struct {
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"output-dir":        "output_dir",
	"chunk-size":        "chunk_size",
	"max-failed-rounds": "max_failed_rounds",
	"connect-timeout":   "http.connect_timeout",
	"read-timeout":      "http.read_timeout",
	"user-agent":        "http.user_agent",
	"header":            "http.headers",
	"debug":             "log.debug",
}

// Load resolves the configuration from defaults, an optional YAML file,
// RANGEDL_* environment variables and explicitly set flags, in increasing
// order of precedence.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	v.SetDefault("workers", 1)
	v.SetDefault("max_bytes_per_second", 0)
	v.SetDefault("chunk_size", utils.DefaultChunkSize)
	v.SetDefault("output_dir", ".")
	v.SetDefault("max_failed_rounds", 0)
	v.SetDefault("http.connect_timeout", utils.DefaultConnectTimeout)
	v.SetDefault("http.read_timeout", utils.DefaultReadTimeout)
	v.SetDefault("http.keep_alive_timeout", utils.DefaultKATimeout)
	v.SetDefault("http.user_agent", utils.ToolUserAgent)
	v.SetDefault("http.headers", []string{})
	v.SetDefault("log.debug", false)

	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("RANGEDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("error binding flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.MaxBytesPerSecond < 0 {
		return fmt.Errorf("max_bytes_per_second must not be negative, got %d", c.MaxBytesPerSecond)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxFailedRounds < 0 {
		return fmt.Errorf("max_failed_rounds must not be negative, got %d", c.MaxFailedRounds)
	}
	if c.HTTP.ConnectTimeout <= 0 || c.HTTP.ReadTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = utils.ToolUserAgent
	}
	return nil
}

// DownloadConfig builds the settings for a single download of url.
func (c *Config) DownloadConfig(url string) utils.DownloadConfig {
	return utils.DownloadConfig{
		URL:               url,
		OutputDir:         c.OutputDir,
		Connections:       c.Workers,
		MaxBytesPerSecond: c.MaxBytesPerSecond,
		ChunkSize:         c.ChunkSize,
		MaxFailedRounds:   c.MaxFailedRounds,
		HTTPClientConfig: utils.HTTPClientConfig{
			ConnectTimeout: c.HTTP.ConnectTimeout,
			ReadTimeout:    c.HTTP.ReadTimeout,
			KATimeout:      c.HTTP.KeepAliveTimeout,
			UserAgent:      c.HTTP.UserAgent,
			Headers:        utils.ParseHeaderArgs(c.HTTP.Headers),
		},
	}
}
