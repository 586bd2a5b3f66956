// Package config loads the settings shared by the productdb server and worker.
//
// Values come from built-in defaults, an optional YAML file and PDB_-prefixed
// environment variables, in increasing order of precedence. A nested key such as
// server.debug maps to PDB_SERVER_DEBUG.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Results   ResultsConfig    `mapstructure:"results"`
	Worker    WorkerConfig     `mapstructure:"worker"`
	Log       LogConfig        `mapstructure:"log"`
	Schedules []ScheduleConfig `mapstructure:"schedules" validate:"dive"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
	// Debug lets non-ajax clients read task status. Never enable in production.
	Debug    bool   `mapstructure:"debug"`
	APIKey   string `mapstructure:"api_key"`
	HomePath string `mapstructure:"home_path" validate:"required,startswith=/"`
}

// RedisConfig describes the broker that carries the queues.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// ResultsConfig selects where task results and metadata are kept.
type ResultsConfig struct {
	Backend  string        `mapstructure:"backend" validate:"required,oneof=redis mysql"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
	MySQLDSN string        `mapstructure:"mysql_dsn" validate:"required_if=Backend mysql"`
}

// WorkerConfig tunes the worker loop.
type WorkerConfig struct {
	MaxRetries  int    `mapstructure:"max_retries" validate:"gte=0"`
	RateLimit   int    `mapstructure:"rate_limit" validate:"gt=0"`
	Burst       int    `mapstructure:"burst" validate:"gtefield=RateLimit"`
	MetricsAddr string `mapstructure:"metrics_addr" validate:"required"`
}

// LogConfig sets the zerolog level.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

// ScheduleConfig registers a periodic job with the cron scheduler.
type ScheduleConfig struct {
	Spec     string `mapstructure:"spec" validate:"required"`
	Type     string `mapstructure:"type" validate:"required"`
	Priority int    `mapstructure:"priority" validate:"gte=0,lte=2"`
}

var validate = validator.New()

// Load reads the configuration. path may be empty, in which case only defaults
// and environment variables are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("invalid config: %s", describe(verrs))
		}
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8081")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.home_path", "/productdb/")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// 28 days, how long finished results stay readable
	v.SetDefault("results.backend", "redis")
	v.SetDefault("results.ttl", 28*24*time.Hour)
	v.SetDefault("results.mysql_dsn", "")

	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.rate_limit", 10)
	v.SetDefault("worker.burst", 20)
	v.SetDefault("worker.metrics_addr", ":8080")

	v.SetDefault("log.level", "info")
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
