package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process configuration shared by the api, worker and CLIs.
type Config struct {
	HTTPAddr       string `mapstructure:"http_addr"`
	DatabaseURL    string `mapstructure:"database_url"`
	RedisAddr      string `mapstructure:"redis_addr"`
	PoolSize       int    `mapstructure:"pool_size"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MinioEndpoint  string `mapstructure:"minio_endpoint"`
	MinioBucket    string `mapstructure:"minio_bucket"`
	MinioAccessKey string `mapstructure:"minio_access_key"`
	MinioSecretKey string `mapstructure:"minio_secret_key"`
	ArchivePrefix  string `mapstructure:"archive_prefix"`
}

var defaults = map[string]any{
	"http_addr":        ":8000",
	"database_url":     "",
	"redis_addr":       "",
	"pool_size":        20,
	"log_level":        "info",
	"log_format":       "json",
	"minio_endpoint":   "",
	"minio_bucket":     "",
	"minio_access_key": "",
	"minio_secret_key": "",
	"archive_prefix":   "classifications",
}

// Load reads configuration from the environment. If CONFIG_FILE is set, that
// file is read first and environment variables override it.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("config_file", "")
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("pool_size must be >= 1, got %d", c.PoolSize)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// ArchiveEnabled reports whether classification snapshots can be archived.
func (c *Config) ArchiveEnabled() bool {
	return c.RedisAddr != "" && c.MinioBucket != ""
}
